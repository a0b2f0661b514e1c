package http

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/mind-engage/mindengage-cert/internal/directory"
)

// POST /users/bulk accepts a JSON array or a multipart CSV/JSON file.
func BulkUpsertUsersHandler(d *directory.SQLDirectory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var rows []directory.Person
		ct := r.Header.Get("Content-Type")
		if strings.HasPrefix(ct, "multipart/form-data") {
			f, _, err := r.FormFile("file")
			if err != nil {
				http.Error(w, "file required", http.StatusBadRequest)
				return
			}
			defer f.Close()
			// sniff CSV vs JSON by first byte
			buf := make([]byte, 1)
			if _, err := f.Read(buf); err != nil {
				http.Error(w, "empty file", http.StatusBadRequest)
				return
			}
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				http.Error(w, "unreadable file", http.StatusBadRequest)
				return
			}
			if buf[0] == '[' {
				if err := json.NewDecoder(f).Decode(&rows); err != nil {
					http.Error(w, "bad json", http.StatusBadRequest)
					return
				}
			} else {
				rows, err = directory.ParseCSV(f)
				if err != nil {
					http.Error(w, "bad csv: "+err.Error(), http.StatusBadRequest)
					return
				}
			}
		} else if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
			http.Error(w, "expected JSON array or multipart file", http.StatusBadRequest)
			return
		}
		ins, upd, err := d.Upsert(r.Context(), rows)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"inserted": ins, "updated": upd})
	}
}

// GET /users?role=
func ListUsersHandler(d *directory.SQLDirectory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		people, err := d.List(r.Context(), r.URL.Query().Get("role"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, people)
	}
}
