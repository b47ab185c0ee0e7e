package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lychee-technology/strata"
	"github.com/lychee-technology/strata/internal/catalog"
	"go.uber.org/zap"
)

// APIResponse is the error response format
type APIResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// ListResponse is one page of a collection.
type ListResponse struct {
	Items        []*catalog.Document `json:"items"`
	Total        int                 `json:"total"`
	Page         int                 `json:"page"`
	ItemsPerPage int                 `json:"itemsPerPage"`
}

// Server exposes a store as JSON documents over HTTP.
type Server struct {
	catalog *catalog.Catalog
	store   strata.Store
	engine  *gin.Engine
}

// NewServer registers the API routes.
func NewServer(cat *catalog.Catalog, store strata.Store) *Server {
	s := &Server{catalog: cat, store: store, engine: gin.New()}
	s.engine.Use(gin.Recovery(), requestLogger())

	s.engine.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	api := s.engine.Group("/api/v1")
	{
		api.POST("/:entity", s.handleCreate)
		api.GET("/:entity", s.handleList)
		api.GET("/:entity/:guid", s.handleGet)
		api.PUT("/:entity/:guid", s.handleUpdate)
		api.DELETE("/:entity/:guid", s.handleDelete)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		zap.S().Debugw("request", "method", c.Request.Method, "path", c.FullPath(), "status", c.Writer.Status())
	}
}

// handleCreate handles POST /api/v1/:entity with one object or an array of objects.
// The objects of one request are saved in a single transaction.
func (s *Server) handleCreate(c *gin.Context) {
	entity := c.Param("entity")
	if _, ok := s.catalog.EntityID(entity); !ok {
		writeError(c, http.StatusNotFound, fmt.Errorf("entity %q not found", entity))
		return
	}

	body, err := readBody(c)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}

	var objects []map[string]any
	single := false
	switch v := body.(type) {
	case map[string]any:
		objects, single = []map[string]any{v}, true
	case []any:
		for _, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				writeError(c, http.StatusBadRequest, errors.New("array items must be objects"))
				return
			}
			objects = append(objects, obj)
		}
	default:
		writeError(c, http.StatusBadRequest, errors.New("body must be an object or array"))
		return
	}
	if len(objects) == 0 {
		writeError(c, http.StatusBadRequest, errors.New("empty array not allowed"))
		return
	}

	entities := make([]strata.Entity, 0, len(objects))
	for _, obj := range objects {
		guid, _ := obj["$guid"].(string)
		rec, err := s.catalog.Decode(&catalog.Document{Entity: entity, Guid: guid, Data: obj})
		if err != nil {
			writeError(c, statusFor(err), err)
			return
		}
		entities = append(entities, rec)
	}

	if err := s.store.Save(c.Request.Context(), entities); err != nil {
		writeError(c, statusFor(err), err)
		return
	}

	docs, err := s.encode(entities)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	if single {
		c.JSON(http.StatusCreated, docs[0])
		return
	}
	c.JSON(http.StatusCreated, docs)
}

// handleUpdate handles PUT /api/v1/:entity/:guid as a merge patch: properties in the
// body overwrite the stored ones, null clears a property, absent properties are kept.
func (s *Server) handleUpdate(c *gin.Context) {
	entity, guid := c.Param("entity"), c.Param("guid")
	entityID, ok := s.catalog.EntityID(entity)
	if !ok {
		writeError(c, http.StatusNotFound, fmt.Errorf("entity %q not found", entity))
		return
	}
	body, err := readBody(c)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	patch, ok := body.(map[string]any)
	if !ok {
		writeError(c, http.StatusBadRequest, errors.New("body must be an object"))
		return
	}

	ctx := c.Request.Context()
	loaded, err := s.store.Load(ctx, entityID, strata.ByGuid(guid))
	if err != nil {
		writeError(c, statusFor(err), err)
		return
	}
	if len(loaded) == 0 {
		writeError(c, http.StatusNotFound, fmt.Errorf("%s %s not found", entity, guid))
		return
	}
	current, err := s.catalog.Encode(loaded[0])
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	merged, err := reparse(current.Data)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}

	var cleared []*strata.FieldDefinition
	for name, v := range patch {
		if v != nil {
			merged[name] = v
			continue
		}
		delete(merged, name)
		f, ok := s.catalog.Field(entity, name)
		if !ok {
			writeError(c, http.StatusBadRequest, strata.NewStoreError(strata.ErrorTypeValidation, strata.ErrCodeFieldNotBound,
				fmt.Sprintf("%s has no property %q", entity, name)))
			return
		}
		cleared = append(cleared, f)
	}

	rec, err := s.catalog.Decode(&catalog.Document{Entity: entity, Guid: guid, Data: merged})
	if err != nil {
		writeError(c, statusFor(err), err)
		return
	}
	for _, f := range cleared {
		rec.Set(f.ID, f.Category, nil)
	}
	if err := s.store.Save(ctx, []strata.Entity{rec}); err != nil {
		writeError(c, statusFor(err), err)
		return
	}
	docs, err := s.encode([]strata.Entity{rec})
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, docs[0])
}

// handleGet handles GET /api/v1/:entity/:guid
func (s *Server) handleGet(c *gin.Context) {
	entity, guid := c.Param("entity"), c.Param("guid")
	entityID, ok := s.catalog.EntityID(entity)
	if !ok {
		writeError(c, http.StatusNotFound, fmt.Errorf("entity %q not found", entity))
		return
	}
	loaded, err := s.store.Load(c.Request.Context(), entityID, strata.ByGuid(guid))
	if err != nil {
		writeError(c, statusFor(err), err)
		return
	}
	if len(loaded) == 0 {
		writeError(c, http.StatusNotFound, fmt.Errorf("%s %s not found", entity, guid))
		return
	}
	docs, err := s.encode(loaded[:1])
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, docs[0])
}

// handleList handles GET /api/v1/:entity with property filters and pagination.
func (s *Server) handleList(c *gin.Context) {
	entity := c.Param("entity")
	entityID, ok := s.catalog.EntityID(entity)
	if !ok {
		writeError(c, http.StatusNotFound, fmt.Errorf("entity %q not found", entity))
		return
	}
	params := c.Request.URL.Query()
	filter, err := buildFilter(s.catalog, entity, params)
	if err != nil {
		writeError(c, statusFor(err), err)
		return
	}
	loaded, err := s.store.Load(c.Request.Context(), entityID, filter)
	if err != nil {
		writeError(c, statusFor(err), err)
		return
	}

	page, perPage := parsePagination(params)
	start := (page - 1) * perPage
	if start > len(loaded) {
		start = len(loaded)
	}
	end := start + perPage
	if end > len(loaded) {
		end = len(loaded)
	}
	docs, err := s.encode(loaded[start:end])
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, ListResponse{Items: docs, Total: len(loaded), Page: page, ItemsPerPage: perPage})
}

// handleDelete handles DELETE /api/v1/:entity/:guid
func (s *Server) handleDelete(c *gin.Context) {
	if entity := c.Param("entity"); !s.known(entity) {
		writeError(c, http.StatusNotFound, fmt.Errorf("entity %q not found", entity))
		return
	}
	if err := s.store.Delete(c.Request.Context(), c.Param("guid")); err != nil {
		writeError(c, statusFor(err), err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) known(entity string) bool {
	_, ok := s.catalog.EntityID(entity)
	return ok
}

func (s *Server) encode(entities []strata.Entity) ([]*catalog.Document, error) {
	docs := make([]*catalog.Document, 0, len(entities))
	for _, e := range entities {
		doc, err := s.catalog.Encode(e)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// readBody decodes the request body keeping numbers exact.
func readBody(c *gin.Context) (any, error) {
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	body, err := decodeJSON(data)
	if err != nil {
		return nil, fmt.Errorf("invalid json body: %w", err)
	}
	return body, nil
}

// reparse brings encoded document data back to the shape a request body has.
// Null properties are dropped.
func reparse(data map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	v, err := decodeJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	out, _ := v.(map[string]any)
	if out == nil {
		out = make(map[string]any)
	}
	for k, x := range out {
		if x == nil {
			delete(out, k)
		}
	}
	return out, nil
}

func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func statusFor(err error) int {
	var se *strata.StoreError
	if !errors.As(err, &se) {
		return http.StatusInternalServerError
	}
	if se.Code == strata.ErrCodeUnregisteredEntity {
		return http.StatusNotFound
	}
	switch se.Type {
	case strata.ErrorTypeValidation:
		return http.StatusBadRequest
	case strata.ErrorTypeNotFound:
		return http.StatusNotFound
	case strata.ErrorTypeConfiguration:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, status int, err error) {
	resp := APIResponse{Success: false, Error: err.Error()}
	var se *strata.StoreError
	if errors.As(err, &se) {
		resp.Code = se.Code
	}
	if status >= http.StatusInternalServerError {
		zap.S().Errorw("request failed", "method", c.Request.Method, "path", c.Request.URL.Path, "error", err)
	}
	c.AbortWithStatusJSON(status, resp)
}
