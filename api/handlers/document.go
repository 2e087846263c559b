package handlers

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/knowledge-pipeline/internal/database"
	"github.com/feichai0017/knowledge-pipeline/internal/models"
	"github.com/feichai0017/knowledge-pipeline/internal/service/document"
	"github.com/feichai0017/knowledge-pipeline/pkg/converters"
	"github.com/feichai0017/knowledge-pipeline/pkg/logger"
)

type DocumentHandler struct {
	ingest    document.Ingester
	docs      DocumentReader
	converter converters.DocumentConverter
	logger    logger.Logger
}

func NewDocumentHandler(ingest document.Ingester, docs DocumentReader, log logger.Logger) *DocumentHandler {
	return &DocumentHandler{ingest: ingest, docs: docs, converter: converters.NewJSONConverter(), logger: log}
}

// Upload 上传单个文档并加入处理队列
func (h *DocumentHandler) Upload(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		handleError(c, h.logger, "Invalid file upload",
			&models.ValidationError{Code: "MISSING_FILE", Field: "file", Message: err.Error()})
		return
	}
	defer file.Close()

	var tags []string
	for _, t := range strings.Split(c.PostForm("tags"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}

	res, err := h.ingest.Upload(c.Request.Context(), file, document.UploadRequest{
		Filename:    header.Filename,
		Size:        header.Size,
		ContentType: header.Header.Get("Content-Type"),
		Tags:        tags,
	})
	if err != nil {
		handleError(c, h.logger, "Failed to upload document", err)
		return
	}
	c.JSON(http.StatusAccepted, res)
}

type crawlRequest struct {
	URL         string   `json:"url" binding:"required"`
	FollowLinks bool     `json:"follow_links"`
	MaxDepth    int      `json:"max_depth"`
	Tags        []string `json:"tags"`
}

// Crawl 抓取网页并加入处理队列
func (h *DocumentHandler) Crawl(c *gin.Context) {
	var body crawlRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		handleError(c, h.logger, "Invalid request body",
			&models.ValidationError{Code: "INVALID_BODY", Message: err.Error()})
		return
	}
	res, err := h.ingest.Crawl(c.Request.Context(), document.CrawlRequest{
		URL:         body.URL,
		FollowLinks: body.FollowLinks,
		MaxDepth:    body.MaxDepth,
		Tags:        body.Tags,
	})
	if err != nil {
		handleError(c, h.logger, "Failed to queue crawl", err)
		return
	}
	c.JSON(http.StatusAccepted, res)
}

func (h *DocumentHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	docs, err := h.docs.ListDocuments(c.Request.Context(), database.ListFilter{
		Status: models.DocumentStatus(c.Query("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		handleError(c, h.logger, "Failed to list documents", err)
		return
	}
	if docs == nil {
		docs = []models.Document{}
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs, "count": len(docs)})
}

func (h *DocumentHandler) Get(c *gin.Context) {
	doc, err := h.docs.GetDocument(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, h.logger, "Failed to get document", err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// Export 下载文档及其分块的 JSON
func (h *DocumentHandler) Export(c *gin.Context) {
	ctx := c.Request.Context()
	doc, err := h.docs.GetDocument(ctx, c.Param("id"))
	if err != nil {
		handleError(c, h.logger, "Failed to get document", err)
		return
	}
	chunks, err := h.docs.GetChunks(ctx, doc.ID)
	if err != nil {
		handleError(c, h.logger, "Failed to get chunks", err)
		return
	}
	out, err := h.converter.Convert(doc, chunks)
	if err != nil {
		handleError(c, h.logger, "Failed to export document", err)
		return
	}

	filename := strings.TrimSuffix(doc.Name, filepath.Ext(doc.Name)) + ".json"
	if doc.FileType == models.FileTypeWeb {
		filename = "web-" + doc.ID + ".json"
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.JSON(http.StatusOK, out)
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.ingest.Delete(c.Request.Context(), id); err != nil {
		handleError(c, h.logger, "Failed to delete document", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Document deleted", "documentId": id})
}

func (h *DocumentHandler) Reprocess(c *gin.Context) {
	res, err := h.ingest.Reprocess(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, h.logger, "Failed to reprocess document", err)
		return
	}
	c.JSON(http.StatusAccepted, res)
}

// TaskStatus 获取处理状态
func (h *DocumentHandler) TaskStatus(c *gin.Context) {
	res, err := h.ingest.TaskStatus(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		handleError(c, h.logger, "Failed to get task status", err)
		return
	}
	c.JSON(http.StatusOK, res)
}
