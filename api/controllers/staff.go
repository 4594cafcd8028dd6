package controllers

import (
	"io"
	"net/http"

	"github.com/attendly/backend/api/responses"
	"github.com/attendly/backend/api/validators"
	"github.com/attendly/backend/internal/workforce"
	pkgerrors "github.com/attendly/backend/pkg/errors"
	"github.com/attendly/backend/pkg/logger"
)

const maxUploadBytes = 5 << 20

// StaffCreate onboards a projected user as staff.
func StaffCreate(svc *workforce.StaffService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, role, err := actorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body workforce.CreateStaffRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		staff, err := svc.CreateStaff(r.Context(), workforce.Actor{UserID: userID, Role: role}, body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, staff)
	}
}

// StaffList lists staff with an optional keyword filter.
func StaffList(svc *workforce.StaffService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := svc.FindAllStaff(r.Context(), r.URL.Query().Get("keyword"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, rows)
	}
}

// StaffGetMe returns the caller's own staff record.
func StaffGetMe(svc *workforce.StaffService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _, err := actorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		staff, err := svc.FindOneStaff(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, staff)
	}
}

// StaffGet returns the staff record owned by the user in the path.
func StaffGet(svc *workforce.StaffService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, err := validators.URLParamUUID(r, "userID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		staff, err := svc.FindOneStaff(r.Context(), ownerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, staff)
	}
}

// StaffUpdate applies partial changes to a staff record.
func StaffUpdate(svc *workforce.StaffService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, role, err := actorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		staffID, err := validators.URLParamUUID(r, "staffID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body workforce.UpdateStaffRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		staff, err := svc.UpdateStaff(r.Context(), workforce.Actor{UserID: userID, Role: role}, staffID, body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, staff)
	}
}

// StaffDelete removes a staff record and cascades user.deleted.
func StaffDelete(svc *workforce.StaffService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, role, err := actorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		staffID, err := validators.URLParamUUID(r, "staffID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.DeleteStaff(r.Context(), workforce.Actor{UserID: userID, Role: role}, staffID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "deleted"})
	}
}

// PositionList lists positions with an optional keyword filter.
func PositionList(svc *workforce.StaffService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		positions, err := svc.FindAllPositions(r.Context(), r.URL.Query().Get("keyword"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, positions)
	}
}

// FileUpload stores a profile photo from a multipart form.
func FileUpload(svc *workforce.StaffService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid multipart form"))
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "file field is required"))
			return
		}
		defer file.Close()

		content, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "read upload"))
			return
		}

		fileID, err := svc.SaveFile(r.Context(), header.Filename, content)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, map[string]string{"id": fileID.String()})
	}
}
