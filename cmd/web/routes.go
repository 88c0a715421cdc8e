package main

import (
	"io"
	"net/http"
	"strconv"

	"github.com/AdamBeresnev/cuptrack/internal/app"
	"github.com/AdamBeresnev/cuptrack/internal/httputil"
	"github.com/AdamBeresnev/cuptrack/internal/middleware"
	"github.com/AdamBeresnev/cuptrack/internal/payload"
	"github.com/AdamBeresnev/cuptrack/internal/service"
	"github.com/AdamBeresnev/cuptrack/internal/tournament"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// maxEvidenceBytes bounds an uploaded screenshot.
const maxEvidenceBytes = 20 << 20

// createRequest also accepts the chart list as typed text.
type createRequest struct {
	service.CreateInput
	ChartText string `json:"chartText"`
}

func newRouter(a *app.App) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Today(a.Today))

	r.Get(payload.SharePath, func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.Query().Get("p")
		today := middleware.GetToday(r.Context())

		if a.Domain == nil {
			// A guest cannot see what is stored, only what the link holds.
			encoded, err := payload.ExtractFromLink(raw)
			if err != nil {
				httputil.Error(w, "Invalid share link", err)
				return
			}
			decoded, err := payload.Decode(encoded, payload.Options{Today: today})
			if err != nil {
				httputil.Error(w, "Invalid share link", err)
				return
			}
			httputil.JSON(w, http.StatusOK, map[string]any{"payload": decoded.Payload, "role": a.Role().String()})
			return
		}

		preview, err := a.Domain.Tournaments().PreviewImport(r.Context(), raw, today)
		if err != nil {
			httputil.Error(w, "Failed to preview import", err)
			return
		}
		httputil.JSON(w, http.StatusOK, preview)
	})

	r.Post(payload.SharePath, func(w http.ResponseWriter, r *http.Request) {
		// requestId resends an earlier unacknowledged delegation.
		q := r.URL.Query()
		requestID := q.Get("requestId")
		if requestID != "" {
			if _, err := uuid.Parse(requestID); err != nil {
				httputil.BadRequest(w, "Invalid request id", err)
				return
			}
		}
		out, err := a.RetryImport(r.Context(), requestID, q.Get("p"))
		if err != nil {
			httputil.Error(w, "Failed to import tournament", err)
			return
		}
		if out.Result != nil {
			httputil.JSON(w, http.StatusOK, out.Result)
			return
		}

		d := out.Delegated
		if d.Delivered {
			status := http.StatusOK
			if !d.Ack.OK {
				status = http.StatusUnprocessableEntity
			}
			httputil.JSON(w, status, map[string]any{
				"delegated":      true,
				"transport":      d.Transport,
				"ok":             d.Ack.OK,
				"decision":       d.Ack.Decision,
				"tournamentUuid": d.Ack.TournamentUUID,
				"error":          d.Ack.Error,
			})
			return
		}
		body := map[string]any{
			"delegated": false,
			"requestId": d.Request.ID,
			"error":     d.Err.Error(),
		}
		if d.Preview != nil {
			body["preview"] = d.Preview
		}
		if d.PreviewErr != nil {
			body["previewError"] = d.PreviewErr.Error()
		}
		httputil.JSON(w, http.StatusAccepted, body)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RequireOwner(a))

		r.Get("/tournaments", func(w http.ResponseWriter, r *http.Request) {
			tab := tournament.TabActive
			if s := r.URL.Query().Get("tab"); s != "" {
				tab = tournament.Tab(s)
			}
			list, err := a.Domain.Tournaments().ListTournaments(r.Context(), tab, middleware.GetToday(r.Context()))
			if err != nil {
				httputil.Error(w, "Failed to list tournaments", err)
				return
			}
			httputil.JSON(w, http.StatusOK, list)
		})

		r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
			httputil.JSON(w, http.StatusOK, map[string]string{
				"role":  middleware.GetRole(r.Context()).String(),
				"today": middleware.GetToday(r.Context()),
			})
		})

		r.Post("/tournaments", func(w http.ResponseWriter, r *http.Request) {
			var in createRequest
			if err := httputil.DecodeJSON(r, &in); err != nil {
				httputil.BadRequest(w, "Invalid request body", err)
				return
			}
			if in.ChartText != "" {
				ids, err := service.ParseChartInput(in.ChartText)
				if err != nil {
					httputil.Error(w, "Invalid chart list", err)
					return
				}
				in.ChartIDs = ids
			}
			id, err := a.Domain.Tournaments().CreateTournament(r.Context(), in.CreateInput, middleware.GetToday(r.Context()))
			if err != nil {
				httputil.Error(w, "Failed to create tournament", err)
				return
			}
			httputil.JSON(w, http.StatusCreated, map[string]string{"tournamentUuid": id})
		})

		r.Route("/tournaments/{uuid}", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				detail, err := a.Domain.Tournaments().GetTournamentDetail(r.Context(), chi.URLParam(r, "uuid"))
				if err != nil {
					httputil.Error(w, "Failed to get tournament", err)
					return
				}
				httputil.JSON(w, http.StatusOK, detail)
			})

			r.Delete("/", func(w http.ResponseWriter, r *http.Request) {
				if err := a.Domain.Tournaments().DeleteTournament(r.Context(), chi.URLParam(r, "uuid")); err != nil {
					httputil.Error(w, "Failed to delete tournament", err)
					return
				}
				w.WriteHeader(http.StatusNoContent)
			})

			r.Get("/export", func(w http.ResponseWriter, r *http.Request) {
				export, err := a.Domain.Tournaments().ExportTournament(r.Context(), chi.URLParam(r, "uuid"))
				if err != nil {
					httputil.Error(w, "Failed to export tournament", err)
					return
				}
				httputil.JSON(w, http.StatusOK, export)
			})

			r.Get("/charts/{chartID}/evidence", func(w http.ResponseWriter, r *http.Request) {
				chartID, err := strconv.Atoi(chi.URLParam(r, "chartID"))
				if err != nil {
					httputil.BadRequest(w, "Invalid chart ID", err)
					return
				}
				data, err := a.Domain.Evidence().ReadEvidence(r.Context(), chi.URLParam(r, "uuid"), chartID)
				if err != nil {
					httputil.Error(w, "Failed to read evidence", err)
					return
				}
				w.Header().Set("Content-Type", "image/jpeg")
				_, _ = w.Write(data)
			})

			r.Put("/charts/{chartID}/evidence", func(w http.ResponseWriter, r *http.Request) {
				chartID, err := strconv.Atoi(chi.URLParam(r, "chartID"))
				if err != nil {
					httputil.BadRequest(w, "Invalid chart ID", err)
					return
				}
				width, _ := strconv.Atoi(r.URL.Query().Get("width"))
				height, _ := strconv.Atoi(r.URL.Query().Get("height"))

				data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEvidenceBytes))
				if err != nil {
					httputil.BadRequest(w, "Failed to read image", err)
					return
				}
				res, err := a.Domain.Evidence().SaveEvidence(r.Context(), chi.URLParam(r, "uuid"), chartID, data, width, height)
				if err != nil {
					httputil.Error(w, "Failed to save evidence", err)
					return
				}
				httputil.JSON(w, http.StatusOK, res)
			})
		})

		r.Get("/settings", func(w http.ResponseWriter, r *http.Request) {
			settings, err := a.Domain.Settings().List(r.Context())
			if err != nil {
				httputil.Error(w, "Failed to list settings", err)
				return
			}
			httputil.JSON(w, http.StatusOK, settings)
		})

		r.Put("/settings", func(w http.ResponseWriter, r *http.Request) {
			values := map[string]string{}
			if err := httputil.DecodeJSON(r, &values); err != nil {
				httputil.BadRequest(w, "Invalid request body", err)
				return
			}
			if err := a.Domain.Settings().SetMany(r.Context(), values); err != nil {
				httputil.Error(w, "Failed to save settings", err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})

		r.Route("/maintenance", func(r chi.Router) {
			r.Post("/purge", func(w http.ResponseWriter, r *http.Request) {
				n, err := a.Domain.Evidence().PurgeExpiredEvidenceIfNeeded(r.Context(), middleware.GetToday(r.Context()))
				if err != nil {
					httputil.Error(w, "Failed to purge evidence", err)
					return
				}
				httputil.JSON(w, http.StatusOK, map[string]int{"purged": n})
			})

			r.Post("/reconcile", func(w http.ResponseWriter, r *http.Request) {
				n, err := a.Domain.Evidence().ReconcileEvidenceFiles(r.Context())
				if err != nil {
					httputil.Error(w, "Failed to reconcile evidence", err)
					return
				}
				httputil.JSON(w, http.StatusOK, map[string]int{"missing": n})
			})

			r.Post("/catalog-sync", func(w http.ResponseWriter, r *http.Request) {
				res, err := a.SyncCatalog(r.Context())
				if err != nil {
					httputil.InternalServerError(w, "Failed to sync chart catalog", err)
					return
				}
				httputil.JSON(w, http.StatusOK, res)
			})
		})
	})

	return r
}
