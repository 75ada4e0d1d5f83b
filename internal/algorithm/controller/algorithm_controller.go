package controller

import (
	"time"

	"algohub/internal/algorithm/model"
	"algohub/internal/algorithm/service"
	appErr "algohub/pkg/errors"
	"algohub/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// AlgorithmController handles submission lifecycle HTTP endpoints.
type AlgorithmController struct {
	svc *service.Service
}

func NewAlgorithmController(svc *service.Service) *AlgorithmController {
	return &AlgorithmController{svc: svc}
}

// RegisterRoutes mounts the endpoints on group, usually /api/v1/algorithms.
func RegisterRoutes(group *gin.RouterGroup, h *AlgorithmController) {
	group.POST("", h.Create)
	group.GET("", h.List)
	group.GET("/names", h.ListNames)
	group.GET("/search", h.Search)
	group.GET("/languages", h.Languages)
	group.GET("/:name", h.Get)
	group.GET("/:name/status", h.Status)
	group.PUT("/:name", h.Update)
	group.DELETE("/:name", h.Remove)
	group.POST("/:name/run", h.Run)
}

// Create registers and builds a submission.
func (h *AlgorithmController) Create(c *gin.Context) {
	var req CreateAlgorithmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	userID := req.UserID
	if userID == "" {
		userID = c.GetString("user_id")
	}
	if userID == "" {
		response.BadRequest(c, "user_id is required")
		return
	}

	in := service.CreateRequest{
		Name:         req.Name,
		Description:  req.Description,
		UserID:       userID,
		Language:     req.Language,
		SourceCode:   []byte(req.SourceCode),
		BuildOptions: req.BuildOptions,
		Price:        req.Price,
		Tags:         req.Tags,
		TestDataID:   req.TestDataID,
	}
	if req.TestData != nil {
		in.TestData = &service.TestDataInput{RunOptions: req.TestData.RunOptions, Input: []byte(req.TestData.Input)}
	}
	res, err := h.svc.Create(c.Request.Context(), in)
	if err != nil {
		writeBuildError(c, res, err)
		return
	}
	writeBuild(c, res)
}

// Update changes a submission and rebuilds it.
func (h *AlgorithmController) Update(c *gin.Context) {
	var req UpdateAlgorithmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	in := service.UpdateRequest{
		Description:  req.Description,
		Language:     req.Language,
		BuildOptions: req.BuildOptions,
		Price:        req.Price,
		Tags:         req.Tags,
	}
	if req.SourceCode != nil {
		in.SourceCode = []byte(*req.SourceCode)
	}
	if req.TestData != nil {
		in.TestData = &service.TestDataInput{RunOptions: req.TestData.RunOptions, Input: []byte(req.TestData.Input)}
	}
	res, err := h.svc.Update(c.Request.Context(), c.Param("name"), in)
	if err != nil {
		writeBuildError(c, res, err)
		return
	}
	writeBuild(c, res)
}

func (h *AlgorithmController) Remove(c *gin.Context) {
	if err := h.svc.Remove(c.Request.Context(), c.Param("name")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// Run executes the built submission against its test data.
func (h *AlgorithmController) Run(c *gin.Context) {
	res, err := h.svc.Run(c.Request.Context(), c.Param("name"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Outcome(c, res.Status, res)
}

func (h *AlgorithmController) Get(c *gin.Context) {
	sub, err := h.svc.Get(c.Request.Context(), c.Param("name"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toView(sub))
}

func (h *AlgorithmController) Status(c *gin.Context) {
	st, err := h.svc.Status(c.Request.Context(), c.Param("name"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, StatusResponse{
		Phase:     st.Phase,
		Code:      st.Code,
		Message:   st.Message,
		UpdatedAt: st.UpdatedAt.UTC().Format(time.RFC3339),
	})
}

// List lists submissions, filtered by ?tag= when given.
func (h *AlgorithmController) List(c *gin.Context) {
	var (
		subs []*model.Submission
		err  error
	)
	if tag := c.Query("tag"); tag != "" {
		subs, err = h.svc.ListByTag(c.Request.Context(), tag)
	} else {
		subs, err = h.svc.List(c.Request.Context())
	}
	if err != nil {
		response.Error(c, err)
		return
	}
	views := make([]SubmissionView, 0, len(subs))
	for _, sub := range subs {
		views = append(views, toView(sub))
	}
	response.Success(c, views)
}

func (h *AlgorithmController) ListNames(c *gin.Context) {
	names, err := h.svc.ListNamesByTag(c.Request.Context(), c.Query("tag"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, names)
}

// Search returns the one submission whose name contains ?q= as a word.
func (h *AlgorithmController) Search(c *gin.Context) {
	q := c.Query("q")
	if q == "" {
		response.BadRequest(c, "q is required")
		return
	}
	sub, err := h.svc.Search(c.Request.Context(), q)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toView(sub))
}

func (h *AlgorithmController) Languages(c *gin.Context) {
	response.Success(c, h.svc.ListLanguages())
}

// writeBuild reports a compile that ran with its diagnostics, whatever its status.
func writeBuild(c *gin.Context, res model.BuildResult) {
	if res.Status == appErr.LanguageNotFound {
		response.ErrorWithCode(c, res.Status, "")
		return
	}
	response.Outcome(c, res.Status, toBuildResponse(res))
}

// writeBuildError reports err and keeps the diagnostics of a build that ran.
func writeBuildError(c *gin.Context, res model.BuildResult, err error) {
	if res.Status == 0 {
		response.Error(c, err)
		return
	}
	response.ErrorWithData(c, err, toBuildResponse(res))
}

func toBuildResponse(res model.BuildResult) BuildResponse {
	return BuildResponse{
		Status:     res.Status,
		ExitCode:   res.ExitCode,
		Stdout:     res.Stdout,
		Stderr:     res.Stderr,
		DurationMs: res.DurationMs,
		TimedOut:   res.TimedOut,
	}
}

func toView(sub *model.Submission) SubmissionView {
	return SubmissionView{
		ID:           sub.ID,
		Name:         sub.Name,
		Description:  sub.Description,
		UserID:       sub.UserID,
		Language:     sub.Language,
		SourceCode:   string(sub.SourceCode),
		BuildOptions: sub.BuildOptions,
		TestDataID:   sub.TestDataID,
		Price:        sub.Price,
		Tags:         sub.Tags,
		CreatedAt:    sub.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    sub.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
