package directory

import (
	"encoding/csv"
	"errors"
	"io"
	"strings"
)

// ParseCSV reads people from a CSV with an id,display_name,role header.
// id_number is optional.
func ParseCSV(r io.Reader) ([]Person, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	hdr, err := cr.Read()
	if err != nil {
		return nil, err
	}
	idx := map[string]int{}
	for i, h := range hdr {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, k := range []string{"id", "display_name", "role"} {
		if _, ok := idx[k]; !ok {
			return nil, errors.New("missing column: " + k)
		}
	}
	var out []Person
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		p := Person{
			ID:          rec[idx["id"]],
			DisplayName: rec[idx["display_name"]],
			Role:        strings.ToLower(rec[idx["role"]]),
		}
		if i, ok := idx["id_number"]; ok {
			p.IDNumber = rec[i]
		}
		out = append(out, p)
	}
	return out, nil
}
