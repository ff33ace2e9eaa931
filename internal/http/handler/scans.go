package handler

import (
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"biasaudit/internal/http/middleware"
	"biasaudit/internal/service"
)

type createScanRequest struct {
	Filename string `json:"filename"`
	Text     string `json:"text"`
}

type usageResponse struct {
	Plan        string    `json:"plan"`
	Limit       int       `json:"limit"`
	ScansUsed   int       `json:"scansUsed"`
	Remaining   int       `json:"remaining"`
	PeriodStart time.Time `json:"periodStart"`
	PeriodEnd   time.Time `json:"periodEnd"`
}

// ListScans godoc
// @Summary List scans
// @Tags scans
// @Param limit query int false "page size (max 100)"
// @Param offset query int false "page offset"
// @Success 200 {object} service.ScanListResult
// @Router /api/scans [get]
func ListScans(svc service.ScanService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit, err := strconv.Atoi(c.Query("limit", "20"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_LIMIT", "invalid limit")
		}
		offset, err := strconv.Atoi(c.Query("offset", "0"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_OFFSET", "invalid offset")
		}

		res, err := svc.List(c.UserContext(), middleware.Owner(c), limit, offset)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(res)
	}
}

// GetScan godoc
// @Summary Get a scan
// @Tags scans
// @Param id path string true "scan id"
// @Success 200 {object} model.ScanRecord
// @Router /api/scans/{id} [get]
func GetScan(svc service.ScanService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		rec, err := svc.Get(c.UserContext(), middleware.Owner(c), c.Params("id"))
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(rec)
	}
}

// CreateScan godoc
// @Summary Submit resume text or a file for heuristic scoring
// @Tags scans
// @Accept json,mpfd
// @Success 201 {object} model.ScanRecord
// @Router /api/scans [post]
func CreateScan(svc service.ScanService, maxUploadBytes int) fiber.Handler {
	return func(c *fiber.Ctx) error {
		owner := middleware.Owner(c)

		if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
			up, errResp := readUpload(c, maxUploadBytes)
			if errResp != nil {
				return errResp()
			}
			rec, err := svc.CreateFromFile(c.UserContext(), owner, *up)
			if err != nil {
				return writeServiceError(c, err)
			}
			return c.Status(fiber.StatusCreated).JSON(rec)
		}

		var req createScanRequest
		if err := c.BodyParser(&req); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "body must be JSON {filename, text} or multipart with a file field")
		}
		rec, err := svc.CreateFromText(c.UserContext(), owner, req.Filename, req.Text)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(rec)
	}
}

// readUpload reads the multipart "file" field. An optional "filename" field overrides the
// client file name.
func readUpload(c *fiber.Ctx, maxBytes int) (*service.Upload, func() error) {
	fh, err := c.FormFile("file")
	if err != nil {
		return nil, func() error {
			return writeError(c, fiber.StatusBadRequest, "FILE_REQUIRED", "file is required")
		}
	}
	if maxBytes > 0 && fh.Size > int64(maxBytes) {
		return nil, func() error {
			return writeError(c, fiber.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "file exceeds the upload limit")
		}
	}

	f, err := fh.Open()
	if err != nil {
		return nil, func() error {
			return writeError(c, fiber.StatusBadRequest, "FILE_OPEN_ERROR", "cannot open uploaded file")
		}
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, func() error {
			return writeError(c, fiber.StatusBadRequest, "FILE_OPEN_ERROR", "cannot read uploaded file")
		}
	}

	name := fh.Filename
	if v := c.FormValue("filename"); v != "" {
		name = v
	}
	return &service.Upload{
		Filename:    name,
		ContentType: fh.Header.Get(fiber.HeaderContentType),
		Data:        data,
	}, nil
}

// AnalyzeScan godoc
// @Summary Enrich a scan with AI analysis
// @Description Idempotent: an analyzed scan is returned unchanged.
// @Tags scans
// @Param id path string true "scan id"
// @Success 200 {object} model.ScanRecord
// @Failure 503 {object} errorPayload
// @Router /api/scans/{id}/analyze [post]
func AnalyzeScan(svc service.ScanService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		rec, err := svc.Analyze(c.UserContext(), middleware.Owner(c), c.Params("id"))
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(rec)
	}
}

// GetReport godoc
// @Summary Report projection of a scan
// @Tags scans
// @Param id path string true "scan id"
// @Success 200 {object} model.ReportView
// @Router /api/scans/{id}/report [get]
func GetReport(svc service.ScanService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		v, err := svc.Report(c.UserContext(), middleware.Owner(c), c.Params("id"))
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(v)
	}
}

// GetUsage godoc
// @Summary Quota usage for the current period
// @Tags usage
// @Success 200 {object} usageResponse
// @Router /api/usage [get]
func GetUsage(svc service.ScanService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		st, err := svc.Usage(c.UserContext(), middleware.Owner(c))
		if err != nil {
			return writeServiceError(c, err)
		}
		if st == nil {
			return writeServiceError(c, errors.New("nil usage status"))
		}
		return c.JSON(usageResponse{
			Plan:        st.Plan,
			Limit:       st.Limit,
			ScansUsed:   st.ScansUsed,
			Remaining:   st.Remaining,
			PeriodStart: st.Period.Start,
			PeriodEnd:   st.Period.End,
		})
	}
}
