// Package receiver is a minimal DSTU2 endpoint that accepts what the
// converter sends: per-resource updates and transaction bundles.
package receiver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/hcafhir/internal/platform/fhir"
)

var (
	resourceTypePattern = regexp.MustCompile(`^[A-Z][A-Za-z]+$`)
	resourceIDPattern   = regexp.MustCompile(`^[A-Za-z0-9\-.]{1,64}$`)
)

// AcceptedTypes are advertised in the capability statement.
var AcceptedTypes = []string{"Patient", "Condition", "Observation", "Procedure", "MedicationOrder"}

type Handler struct {
	store  Store
	logger zerolog.Logger
}

func NewHandler(store Store, logger zerolog.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

func (h *Handler) RegisterRoutes(e *echo.Echo, mw ...echo.MiddlewareFunc) {
	g := e.Group("", mw...)
	g.GET("/metadata", h.Metadata)
	g.POST("/", h.Transaction)
	g.PUT("/:type/:id", h.Update)
	g.GET("/:type/:id", h.Read)
}

// Update handles PUT /:type/:id.
func (h *Handler) Update(c echo.Context) error {
	typ, id := c.Param("type"), c.Param("id")
	if err := validateKey(typ, id); err != nil {
		return err
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "read body: "+err.Error())
	}
	r, err := fhir.NewResource(body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if r.Type != typ || r.ID != id {
		return echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("body is %s but URL names %s/%s", r.Ref(), typ, id))
	}

	res, err := h.store.Upsert(c.Request().Context(), r)
	if err != nil {
		return err
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	setVersionHeaders(c, res.Resource)
	c.Response().Header().Set(echo.HeaderLocation, historyLocation(res.Resource))
	return c.Blob(status, fhir.ContentType, res.Resource.Body)
}

// Read handles GET /:type/:id.
func (h *Handler) Read(c echo.Context) error {
	typ, id := c.Param("type"), c.Param("id")
	if err := validateKey(typ, id); err != nil {
		return err
	}
	r, err := h.store.Read(c.Request().Context(), typ, id)
	if errors.Is(err, ErrNotFound) {
		return writeOutcome(c, http.StatusNotFound, fhir.NotFoundOutcome(typ, id))
	}
	if err != nil {
		return err
	}
	setVersionHeaders(c, r)
	return c.Blob(http.StatusOK, fhir.ContentType, r.Body)
}

// Transaction handles POST / with a transaction Bundle. Every entry is
// checked before anything is written; then all entries are applied together.
func (h *Handler) Transaction(c echo.Context) error {
	var bundle fhir.Bundle
	if err := json.NewDecoder(c.Request().Body).Decode(&bundle); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "parse bundle: "+err.Error())
	}
	if bundle.ResourceType != "Bundle" {
		return echo.NewHTTPError(http.StatusBadRequest, "expected a Bundle, got "+bundle.ResourceType)
	}
	if bundle.Type != fhir.BundleTypeTransaction {
		return echo.NewHTTPError(http.StatusBadRequest, "bundle type must be transaction, got "+bundle.Type)
	}

	resources := make([]fhir.Resource, 0, len(bundle.Entry))
	for i, entry := range bundle.Entry {
		r, err := entryResource(entry)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("entry %d: %v", i, err))
		}
		resources = append(resources, r)
	}

	results, err := h.store.Transaction(c.Request().Context(), resources)
	if err != nil {
		return err
	}

	entries := make([]fhir.BundleEntry, len(results))
	created := 0
	for i, res := range results {
		status := "200 OK"
		if res.Created {
			status = "201 Created"
			created++
		}
		entries[i] = fhir.BundleEntry{
			Response: &fhir.BundleResponse{
				Status:   status,
				Location: historyLocation(res.Resource),
				ETag:     etag(res.Resource),
			},
		}
	}
	h.logger.Debug().
		Int("entries", len(results)).
		Int("created", created).
		Msg("transaction applied")

	return writeJSON(c, http.StatusOK, fhir.NewTransactionResponse(entries))
}

// Metadata answers GET /metadata with a DSTU2 Conformance statement.
func (h *Handler) Metadata(c echo.Context) error {
	resources := make([]map[string]interface{}, 0, len(AcceptedTypes))
	for _, t := range AcceptedTypes {
		resources = append(resources, map[string]interface{}{
			"type": t,
			"interaction": []map[string]string{
				{"code": "read"},
				{"code": "update"},
			},
			"updateCreate": true,
		})
	}
	stmt := map[string]interface{}{
		"resourceType":  "Conformance",
		"status":        "active",
		"date":          time.Now().UTC().Format("2006-01-02"),
		"kind":          "instance",
		"fhirVersion":   fhir.Version,
		"acceptUnknown": "no",
		"format":        []string{fhir.ContentType, "json"},
		"software":      map[string]string{"name": "hca-fhir receive"},
		"rest": []map[string]interface{}{{
			"mode":        "server",
			"resource":    resources,
			"interaction": []map[string]string{{"code": "transaction"}},
		}},
	}
	return writeJSON(c, http.StatusOK, stmt)
}

func entryResource(entry fhir.BundleEntry) (fhir.Resource, error) {
	if entry.Request == nil {
		return fhir.Resource{}, errors.New("missing request")
	}
	if entry.Request.Method != http.MethodPut {
		return fhir.Resource{}, fmt.Errorf("method %s is not supported", entry.Request.Method)
	}
	if len(entry.Resource) == 0 {
		return fhir.Resource{}, errors.New("missing resource")
	}
	r, err := fhir.NewResource(entry.Resource)
	if err != nil {
		return fhir.Resource{}, err
	}
	typ, id, ok := strings.Cut(strings.TrimPrefix(entry.Request.URL, "/"), "/")
	if !ok {
		return fhir.Resource{}, fmt.Errorf("request url %q is not Type/id", entry.Request.URL)
	}
	if err := validateKey(typ, id); err != nil {
		return fhir.Resource{}, err
	}
	if r.Type != typ || r.ID != id {
		return fhir.Resource{}, fmt.Errorf("resource is %s but request url is %s", r.Ref(), entry.Request.URL)
	}
	return r, nil
}

func validateKey(typ, id string) error {
	if !resourceTypePattern.MatchString(typ) {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid resource type %q", typ))
	}
	if !resourceIDPattern.MatchString(id) {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid resource id %q", id))
	}
	return nil
}

func etag(r *StoredResource) string {
	return `W/"` + strconv.Itoa(r.VersionID) + `"`
}

func historyLocation(r *StoredResource) string {
	return fmt.Sprintf("%s/%s/_history/%d", r.Type, r.ID, r.VersionID)
}

func setVersionHeaders(c echo.Context, r *StoredResource) {
	c.Response().Header().Set("ETag", etag(r))
	c.Response().Header().Set("Last-Modified", r.LastUpdated.UTC().Format(http.TimeFormat))
}

func writeJSON(c echo.Context, status int, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Blob(status, fhir.ContentType, b)
}

func writeOutcome(c echo.Context, status int, o *fhir.OperationOutcome) error {
	return writeJSON(c, status, o)
}

// ErrorHandler renders every error as an OperationOutcome.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		msg := "internal server error"
		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			msg = fmt.Sprint(he.Message)
		} else {
			logger.Error().Err(err).Str("path", c.Request().URL.Path).Msg("unhandled error")
		}

		var outcome *fhir.OperationOutcome
		switch {
		case status == http.StatusUnauthorized:
			outcome = fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeSecurity, msg)
		case status == http.StatusNotFound || status == http.StatusMethodNotAllowed:
			outcome = fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeNotSupported, msg)
		case status < http.StatusInternalServerError:
			outcome = fhir.InvalidOutcome(msg)
		default:
			outcome = fhir.NewOperationOutcome(fhir.IssueSeverityFatal, fhir.IssueTypeException, msg)
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		if werr := writeOutcome(c, status, outcome); werr != nil {
			logger.Error().Err(werr).Msg("write error outcome")
		}
	}
}
