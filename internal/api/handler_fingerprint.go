package api

import (
	"net/http"

	"github.com/radar-hq/radar/internal/fingerprint"
)

// HandleListFingerprints returns GET /api/v1/fingerprints.
func HandleListFingerprints(store *fingerprint.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := ParsePagination(r)
		if err != nil {
			writeInvalidArgument(w, err.Error())
			return
		}
		all, err := store.List()
		if err != nil {
			writeDomainError(w, err)
			return
		}
		class := r.URL.Query().Get("device_class")
		var out []*fingerprint.Fingerprint
		for _, f := range all {
			if class != "" && string(f.DeviceClass) != class {
				continue
			}
			out = append(out, f)
		}
		WritePage(w, http.StatusOK, out, p)
	}
}

// HandleGenerateFingerprint returns POST /api/v1/fingerprints:generate.
// Body: {"device_class": "desktop"|"mobile"}.
func HandleGenerateFingerprint(store *fingerprint.Store) http.HandlerFunc {
	type generateRequest struct {
		DeviceClass string `json:"device_class"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		class := fingerprint.DeviceClass(req.DeviceClass)
		switch class {
		case fingerprint.Desktop, fingerprint.Mobile:
		case "":
			class = fingerprint.Desktop
		default:
			writeInvalidArgument(w, "device_class must be desktop or mobile")
			return
		}
		f, err := store.Generate(class)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, f)
	}
}

// HandleGetFingerprint returns GET /api/v1/fingerprints/{id}.
func HandleGetFingerprint(store *fingerprint.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := store.Get(PathParam(r, "id"))
		if err != nil {
			WriteError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
			return
		}
		WriteJSON(w, http.StatusOK, f)
	}
}

// HandleDeleteFingerprint returns DELETE /api/v1/fingerprints/{id}.
func HandleDeleteFingerprint(store *fingerprint.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := PathParam(r, "id")
		if err := store.Delete(id); err != nil {
			writeDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"deleted": id})
	}
}
