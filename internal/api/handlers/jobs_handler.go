package handlers

import (
	"net/http"
	"strconv"
	"time"

	"example.com/dockops/services/jobtracker/internal/ingest"
	"example.com/dockops/services/jobtracker/internal/repositories"
	"example.com/dockops/services/jobtracker/internal/services"
	"example.com/dockops/services/jobtracker/internal/tracing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// JobsHandler serves the read API over the active snapshot, deltas,
// chains and KPIs.
type JobsHandler struct {
	importService *services.ImportService
	exportDir     string
	tracer        tracing.Tracer
}

// NewJobsHandler creates a new jobs handler
func NewJobsHandler(importService *services.ImportService, exportDir string, tracer tracing.Tracer) *JobsHandler {
	return &JobsHandler{
		importService: importService,
		exportDir:     exportDir,
		tracer:        tracer,
	}
}

// HandleListJobs returns active jobs matching the query filters
func (h *JobsHandler) HandleListJobs(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-list-jobs")
	defer h.tracer.EndTransaction(txn)

	filter := repositories.JobFilter{
		Carrier:     c.Query("carrier"),
		State:       c.Query("state"),
		Market:      c.Query("market"),
		Status:      c.Query("status"),
		OverdueOnly: c.Query("overdue") == "true",
		Limit:       queryInt(c, "limit", 100),
		Offset:      queryInt(c, "offset", 0),
	}
	h.tracer.AddAttribute(txn, "carrier", filter.Carrier)

	jobs, err := h.importService.ActiveJobs(c, filter, time.Now())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list active jobs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"count": len(jobs), "jobs": jobs})
}

// HandleGetJob returns a single active job by id
func (h *JobsHandler) HandleGetJob(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-get-job")
	defer h.tracer.EndTransaction(txn)

	jobID := c.Param("id")
	job, err := h.importService.GetJob(c, jobID)
	if err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("Failed to fetch job")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	c.JSON(http.StatusOK, job)
}

// HandleLatestDeltas returns the delta report from the most recent run
func (h *JobsHandler) HandleLatestDeltas(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-latest-deltas")
	defer h.tracer.EndTransaction(txn)

	deltas, err := h.importService.LatestDeltas(c)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch latest deltas")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}
	if deltas == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no import has run yet"})
		return
	}

	c.JSON(http.StatusOK, deltas)
}

// HandleLatestSummary returns the most recent run summary
func (h *JobsHandler) HandleLatestSummary(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-latest-summary")
	defer h.tracer.EndTransaction(txn)

	summary, err := h.importService.LatestSummary(c)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch latest run summary")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}
	if summary == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no import has run yet"})
		return
	}

	c.JSON(http.StatusOK, summary)
}

// HandleTriggerImport runs the pipeline on the newest export file and
// returns its summary
func (h *JobsHandler) HandleTriggerImport(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-trigger-import")
	defer h.tracer.EndTransaction(txn)

	path, err := ingest.LatestExport(h.exportDir)
	if err != nil {
		log.Error().Err(err).Str("dir", h.exportDir).Msg("No export file to import")
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}

	summary, err := h.importService.RunFromSource(c, ingest.NewFileSource(path), time.Now())
	if err != nil {
		log.Error().Err(err).Msg("Import run failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

// HandleListChains returns tracked product chains
func (h *JobsHandler) HandleListChains(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-list-chains")
	defer h.tracer.EndTransaction(txn)

	chains, err := h.importService.Chains().ListChains(c, queryInt(c, "min_jobs", 2), queryInt(c, "limit", 100), queryInt(c, "offset", 0))
	if err != nil {
		log.Error().Err(err).Msg("Failed to list chains")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"count": len(chains), "chains": chains})
}

// HandleChainAlerts returns current chain alerts, critical first
func (h *JobsHandler) HandleChainAlerts(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-chain-alerts")
	defer h.tracer.EndTransaction(txn)

	alerts, err := h.importService.LatestAlerts(c)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch chain alerts")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"count": len(alerts), "alerts": alerts})
}

// HandleGetChain returns one chain with its members by product serial
func (h *JobsHandler) HandleGetChain(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-get-chain")
	defer h.tracer.EndTransaction(txn)

	serial := c.Param("serial")
	chain, err := h.importService.Chains().GetChainDetail(c, serial)
	if err != nil {
		log.Error().Err(err).Str("serial", serial).Msg("Failed to fetch chain")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}
	if chain == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "chain not found"})
		return
	}

	c.JSON(http.StatusOK, chain)
}

// HandleLatestKPIs returns the most recent KPI snapshot
func (h *JobsHandler) HandleLatestKPIs(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-latest-kpis")
	defer h.tracer.EndTransaction(txn)

	snap, err := h.importService.KPIs().Latest(c)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch latest KPI snapshot")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}
	if snap == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no KPI snapshot yet"})
		return
	}

	c.JSON(http.StatusOK, snap)
}

// HandleKPIHistory returns daily KPI snapshots for the past N days
func (h *JobsHandler) HandleKPIHistory(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-kpi-history")
	defer h.tracer.EndTransaction(txn)

	history, err := h.importService.KPIs().History(c, queryInt(c, "days", 30), time.Now())
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch KPI history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"count": len(history), "snapshots": history})
}

// HandleKPITrends compares the two most recent KPI snapshots
func (h *JobsHandler) HandleKPITrends(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-kpi-trends")
	defer h.tracer.EndTransaction(txn)

	trends, err := h.importService.KPIs().Trends(c)
	if err != nil {
		log.Error().Err(err).Msg("Failed to compute KPI trends")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"count": len(trends), "trends": trends})
}

// HandleCarrierKPIs returns per-carrier KPIs from the latest report date
func (h *JobsHandler) HandleCarrierKPIs(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-carrier-kpis")
	defer h.tracer.EndTransaction(txn)

	kpis, err := h.importService.KPIs().LatestCarrierKPIs(c)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch carrier KPIs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"count": len(kpis), "carriers": kpis})
}

// HandleDriverKPIs aggregates driver performance over the active
// snapshot on demand
func (h *JobsHandler) HandleDriverKPIs(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-driver-kpis")
	defer h.tracer.EndTransaction(txn)

	jobs, err := h.importService.ListActive(c)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load active jobs for driver KPIs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}

	kpis := h.importService.KPIs().ComputeDriverKPIs(jobs, time.Now())
	c.JSON(http.StatusOK, gin.H{"count": len(kpis), "drivers": kpis})
}

// HandleDwellAggregates returns average minutes spent between
// consecutive workflow stages
func (h *JobsHandler) HandleDwellAggregates(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-dwell-aggregates")
	defer h.tracer.EndTransaction(txn)

	dwell, err := h.importService.KPIs().DwellAggregates(c)
	if err != nil {
		log.Error().Err(err).Msg("Failed to compute dwell aggregates")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"count": len(dwell), "stages": dwell})
}

// HandleArchiveStats returns per-carrier statistics over the archive
func (h *JobsHandler) HandleArchiveStats(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-archive-stats")
	defer h.tracer.EndTransaction(txn)

	stats, err := h.importService.KPIs().ArchiveStats(c)
	if err != nil {
		log.Error().Err(err).Msg("Failed to compute archive stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// RegisterRoutes registers the handler's routes
func (h *JobsHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/jobs", h.HandleListJobs)
	router.GET("/jobs/:id", h.HandleGetJob)
	router.GET("/deltas/latest", h.HandleLatestDeltas)
	router.GET("/imports/latest", h.HandleLatestSummary)
	router.POST("/imports", h.HandleTriggerImport)
	router.GET("/chains", h.HandleListChains)
	router.GET("/chains/alerts", h.HandleChainAlerts)
	router.GET("/chains/:serial", h.HandleGetChain)
	router.GET("/kpis/latest", h.HandleLatestKPIs)
	router.GET("/kpis/history", h.HandleKPIHistory)
	router.GET("/kpis/trends", h.HandleKPITrends)
	router.GET("/kpis/carriers", h.HandleCarrierKPIs)
	router.GET("/kpis/drivers", h.HandleDriverKPIs)
	router.GET("/dwell", h.HandleDwellAggregates)
	router.GET("/archive/stats", h.HandleArchiveStats)
}

// queryInt reads an integer query parameter with a fallback
func queryInt(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return value
}
