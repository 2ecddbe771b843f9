package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/qvantel/solapse/api/types"
	"github.com/qvantel/solapse/internal/logger"
	"github.com/qvantel/solapse/internal/nets"
)

// DeleteNet godoc
// @Summary Snapshot deletion endpoint
// @Description Will stop serving the snapshot with the specified version and delete it from the store
// @Produce json
// @Param id path string true "Snapshot version"
// @Success 200 {object} types.SimpleRes
// @Failure 500 {object} types.SimpleRes "When there is an error deleting the snapshot"
// @Router /nets/{id} [delete]
func (h *Handler) DeleteNet(c *gin.Context) {
	id := c.Param("id")
	h.Registry.Remove(id)
	h.loaded()
	err := h.NPS.Delete(id)
	if err != nil {
		logger.Error("Failed to delete snapshot "+id, err)
		c.JSON(http.StatusInternalServerError, types.NewErrorRes("Error deleting snapshot "+id+", see logs for more info"))
		return
	}
	c.JSON(http.StatusOK, types.NewOkRes("Snapshot "+id+" was successfully deleted"))
}

// ListNets godoc
// @Summary Snapshots endpoint
// @Description Will return the paginated list of density model snapshots in the store
// @Produce json
// @Param offset query int false "Offset to fetch" default(0)
// @Param limit query int false "How many snapshots to fetch" default(10) maximum(50)
// @Param pattern query string false "Glob the versions have to match" default(*)
// @Success 200 {object} types.PagedRes
// @Failure 400 {object} types.SimpleRes "When the request params are formatted incorrectly"
// @Failure 500 {object} types.SimpleRes "When there is an error retrieving the list of snapshots"
// @Router /nets [get]
func (h *Handler) ListNets(c *gin.Context) {
	raw := c.DefaultQuery("offset", "0")
	offset, err := strconv.Atoi(raw)
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, types.NewErrorRes("offset must be a valid integer"))
		return
	}
	raw = c.DefaultQuery("limit", "10")
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, types.NewErrorRes("limit must be a valid integer"))
		return
	}
	if limit > 50 {
		limit = 50
	}

	list, cursor, err := nets.List(offset, limit, c.DefaultQuery("pattern", "*"), h.NPS)
	if err != nil {
		logger.Error("Failed to get list of snapshots", err)
		c.JSON(http.StatusInternalServerError, types.NewErrorRes("Error getting list of snapshots, see logs for more info"))
		return
	}
	for i := range list {
		_, err := h.Registry.Get(list[i].ID)
		list[i].Loaded = err == nil
	}
	c.JSON(http.StatusOK, types.PagedRes{Last: cursor == 0, Next: cursor, Results: list})
}

// Train godoc
// @Summary Snapshot train endpoint
// @Description Queues up the training of a snapshot, unset fields take the configured defaults. Once trained the
// @Description snapshot is saved and served under its version
// @Accept json
// @Param request body types.TrainRequest true "Training settings"
// @Success 202 {object} types.SimpleRes
// @Failure 400 {object} types.SimpleRes "When the request body is formatted incorrectly"
// @Failure 503 {object} types.SimpleRes "When the training queue is full"
// @Router /nets [post]
func (h *Handler) Train(c *gin.Context) {
	var tr types.TrainRequest
	err := c.ShouldBindJSON(&tr)
	if err != nil {
		logger.Debug("Failed to unmarshal message (" + err.Error() + ")")
		c.JSON(http.StatusBadRequest, types.NewErrorRes("Wrong format"))
		return
	}
	err = tr.Validate()
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorRes(err.Error()))
		return
	}
	tr = nets.Resolve(tr, h.Conf.ML)
	select {
	case h.TServ <- tr:
		c.JSON(http.StatusAccepted, types.NewOkRes("Training request for snapshot "+tr.Version+" created successfully"))
	default:
		c.JSON(http.StatusServiceUnavailable, types.NewErrorRes("The training queue is full, try again later"))
	}
}
