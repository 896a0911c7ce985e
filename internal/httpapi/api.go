package httpapi

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/peterpiperpicked4/vaulthealth/internal/detect"
	"github.com/peterpiperpicked4/vaulthealth/internal/eventbus"
	"github.com/peterpiperpicked4/vaulthealth/internal/schema"
	"github.com/peterpiperpicked4/vaulthealth/internal/service"
	"github.com/peterpiperpicked4/vaulthealth/internal/transform"
)

// ========== DTOs（与客户端契约保持稳定） ==========

type SleepSessionDTO struct {
	ID                 string   `json:"id"`
	Date               string   `json:"date"`
	StartedAt          int64    `json:"started_at"`
	EndedAt            int64    `json:"ended_at"`
	DurationSeconds    int      `json:"duration_seconds"`
	DeepSeconds        int      `json:"deep_seconds"`
	RemSeconds         int      `json:"rem_seconds"`
	LightSeconds       int      `json:"light_seconds"`
	AwakeSeconds       int      `json:"awake_seconds"`
	TimeInBedSeconds   int      `json:"time_in_bed_seconds"`
	Efficiency         *float64 `json:"efficiency,omitempty"`
	AvgHeartRate       *float64 `json:"avg_heart_rate,omitempty"`
	AvgHrv             *float64 `json:"avg_hrv,omitempty"`
	AvgRespiratoryRate *float64 `json:"avg_respiratory_rate,omitempty"`
	IsComplete         bool     `json:"is_complete"`
	HasOutliers        bool     `json:"has_outliers"`
	OutlierFields      []string `json:"outlier_fields,omitempty"`
	ManuallyExcluded   bool     `json:"manually_excluded"`
	ExclusionReason    string   `json:"exclusion_reason,omitempty"`
}

type SourceDTO struct {
	ID                  string `json:"id"`
	Vendor              string `json:"vendor"`
	FileName            string `json:"file_name"`
	FileHash            string `json:"file_hash"`
	FileSizeBytes       int64  `json:"file_size_bytes"`
	SleepSessionCount   int    `json:"sleep_session_count"`
	WorkoutSessionCount int    `json:"workout_session_count"`
	DailyMetricCount    int    `json:"daily_metric_count"`
	TimeSeriesCount     int    `json:"time_series_count"`
	WarningCount        int    `json:"warning_count"`
	ImportedAt          string `json:"imported_at"`
}

type exclusionRequest struct {
	SessionID string `json:"session_id"`
	Excluded  bool   `json:"excluded"`
	Reason    string `json:"reason,omitempty"`
}

// 上传体积上限（内存驻留解析，防滥用）
const maxUploadBytes = 256 << 20

func (a *apiServer) registerJSONRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/import", a.wrapPOST(a.importFile))
	mux.HandleFunc("/api/detect", a.wrapPOST(a.detectFile))

	mux.HandleFunc("/api/sleep-sessions", a.wrapGET(a.listSleepSessions))
	mux.HandleFunc("/api/sleep-sessions/exclude", a.wrapPOST(a.setExclusion))

	mux.HandleFunc("/api/quality/report", a.wrapGET(a.getQualityReport))
	mux.HandleFunc("/api/quality/assess", a.wrapPOST(a.assessQuality))

	mux.HandleFunc("/api/sources", a.wrapGET(a.listSources))

	mux.HandleFunc("/api/profiles", a.wrapAny(a.profiles))
}

func (a *apiServer) wrapGET(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		fn(w, r)
	}
}

func (a *apiServer) wrapPOST(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		fn(w, r)
	}
}

func (a *apiServer) wrapAny(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) { fn(w, r) }
}

// userIDParam 解析 user_id 查询参数，缺省回退到配置中的默认用户
func (a *apiServer) userIDParam(r *http.Request) string {
	if uid := strings.TrimSpace(r.URL.Query().Get("user_id")); uid != "" {
		return uid
	}
	return a.core.Cfg.App.UserID
}

func limitParam(r *http.Request, def int) int {
	if s := strings.TrimSpace(r.URL.Query().Get("limit")); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// readUpload 读取 multipart 上传的 file 字段；失败时已写入响应
func readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, bool) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "解析上传表单失败: "+err.Error())
		return "", nil, false
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "缺少 file 字段")
		return "", nil, false
	}
	defer f.Close()

	content, err := io.ReadAll(io.LimitReader(f, maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "读取上传文件失败: "+err.Error())
		return "", nil, false
	}
	return hdr.Filename, content, true
}

// ========== handlers ==========

func (a *apiServer) importFile(w http.ResponseWriter, r *http.Request) {
	fileName, content, ok := readUpload(w, r)
	if !ok {
		return
	}

	userID := strings.TrimSpace(r.FormValue("user_id"))
	if userID == "" {
		userID = a.core.Cfg.App.UserID
	}

	var profile *schema.ImporterProfile
	if name := strings.TrimSpace(r.FormValue("profile")); name != "" {
		p, err := a.core.Repos.Profile.GetByName(r.Context(), name)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if p == nil {
			writeError(w, http.StatusNotFound, "配置不存在: "+name)
			return
		}
		profile = p
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	result := a.core.Services.Import.ImportFile(ctx, service.ImportInput{
		UserID:   userID,
		FileName: fileName,
		MimeType: r.FormValue("mime_type"),
		Content:  content,
		Profile:  profile,
		OnProgress: func(p service.Progress) {
			a.hub.PublishProgress(p.Stage, p.Percent, p.Message)
		},
	})

	a.hub.Publish(eventbus.Event{
		Type: eventbus.EventImportResult,
		Data: map[string]any{
			"success":   result.Success,
			"source_id": result.SourceID,
			"vendor":    result.Vendor,
			"file_name": fileName,
		},
	})

	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, result)
}

func (a *apiServer) detectFile(w http.ResponseWriter, r *http.Request) {
	fileName, content, ok := readUpload(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, detect.DetectFile(fileName, r.FormValue("mime_type"), content))
}

func (a *apiServer) listSleepSessions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	sessions, err := a.core.Repos.Sleep.ListByUser(ctx, a.userIDParam(r), limitParam(r, 90))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	result := make([]SleepSessionDTO, 0, len(sessions))
	for i := range sessions {
		result = append(result, toSleepDTO(&sessions[i]))
	}
	writeJSON(w, http.StatusOK, result)
}

func toSleepDTO(s *schema.SleepSession) SleepSessionDTO {
	return SleepSessionDTO{
		ID:                 s.ID,
		Date:               s.Date,
		StartedAt:          s.StartedAt,
		EndedAt:            s.EndedAt,
		DurationSeconds:    s.DurationSeconds,
		DeepSeconds:        s.DeepSeconds,
		RemSeconds:         s.RemSeconds,
		LightSeconds:       s.LightSeconds,
		AwakeSeconds:       s.AwakeSeconds,
		TimeInBedSeconds:   s.TimeInBedSeconds,
		Efficiency:         s.Efficiency,
		AvgHeartRate:       s.AvgHeartRate,
		AvgHrv:             s.AvgHrv,
		AvgRespiratoryRate: s.AvgRespiratoryRate,
		IsComplete:         s.Quality.IsComplete,
		HasOutliers:        s.Quality.HasOutliers,
		OutlierFields:      s.Quality.OutlierFields,
		ManuallyExcluded:   s.Quality.ManuallyExcluded,
		ExclusionReason:    s.Quality.ExclusionReason,
	}
}

func (a *apiServer) setExclusion(w http.ResponseWriter, r *http.Request) {
	var req exclusionRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "解析请求体失败: "+err.Error())
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		writeError(w, http.StatusBadRequest, "session_id 不能为空")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := a.core.Services.Quality.SetManualExclusion(ctx, req.SessionID, req.Excluded, req.Reason); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *apiServer) getQualityReport(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	report, err := a.core.Services.Quality.AssessUser(ctx, a.userIDParam(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *apiServer) assessQuality(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	userID := a.userIDParam(r)
	report, err := a.core.Services.Quality.AssessUser(ctx, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	a.hub.Publish(eventbus.Event{
		Type: eventbus.EventQualityUpdated,
		Data: map[string]any{
			"user_id":        userID,
			"total_sessions": report.TotalSessions,
			"bad_count":      report.BadCount,
		},
	})
	writeJSON(w, http.StatusOK, report)
}

func (a *apiServer) listSources(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	sources, err := a.core.Repos.Source.ListByUser(ctx, a.userIDParam(r), limitParam(r, 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	result := make([]SourceDTO, 0, len(sources))
	for _, s := range sources {
		result = append(result, SourceDTO{
			ID:                  s.ID,
			Vendor:              s.Vendor,
			FileName:            s.FileName,
			FileHash:            s.FileHash,
			FileSizeBytes:       s.FileSizeBytes,
			SleepSessionCount:   s.SleepSessionCount,
			WorkoutSessionCount: s.WorkoutSessionCount,
			DailyMetricCount:    s.DailyMetricCount,
			TimeSeriesCount:     s.TimeSeriesCount,
			WarningCount:        s.WarningCount,
			ImportedAt:          s.ImportedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *apiServer) profiles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listProfiles(w, r)
	case http.MethodPost:
		a.saveProfile(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (a *apiServer) listProfiles(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	list, err := a.core.Repos.Profile.List(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *apiServer) saveProfile(w http.ResponseWriter, r *http.Request) {
	var profile schema.ImporterProfile
	if err := readJSON(r, &profile); err != nil {
		writeError(w, http.StatusBadRequest, "解析请求体失败: "+err.Error())
		return
	}
	if err := transform.ValidateProfile(&profile); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := a.core.Repos.Profile.Save(ctx, &profile); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "name": profile.Name})
}
