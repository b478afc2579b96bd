package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	aigen "github.com/JohnPlummer/jp-go-aigen"
	"github.com/JohnPlummer/jp-go-aigen/internal/flashcards"
	"github.com/JohnPlummer/jp-go-aigen/internal/ratelimit"
	"github.com/JohnPlummer/jp-go-aigen/internal/reqerr"
	"github.com/JohnPlummer/jp-go-aigen/internal/store"
)

type handler struct {
	client     *aigen.Client
	flashcards *flashcards.Service
	records    Lister
}

type listQuery struct {
	Caller string `form:"caller" binding:"omitempty,max=128"`
	Status string `form:"status" binding:"omitempty,oneof=succeeded failed"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=200"`
	Offset int    `form:"offset" binding:"omitempty,min=0"`
	Order  string `form:"order" binding:"omitempty,oneof=asc desc"`
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, h.client.Health())
}

func (h *handler) generate(c *gin.Context) error {
	var in flashcards.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		return reqerr.InvalidBody(err)
	}
	in.Caller = c.GetHeader(ratelimit.HeaderCallerID)

	out, err := h.flashcards.Generate(c.Request.Context(), in)
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, out)
	return nil
}

func (h *handler) listGenerations(c *gin.Context) error {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		return reqerr.InvalidBody(err)
	}

	records, err := h.records.List(c.Request.Context(), store.Filter{
		Caller: q.Caller,
		Status: store.Status(q.Status),
		Limit:  q.Limit,
		Offset: q.Offset,
		Order:  store.Order(q.Order),
	})
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, gin.H{"items": records})
	return nil
}
