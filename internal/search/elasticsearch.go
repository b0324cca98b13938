package search

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/dockops/services/jobtracker/config"
	"example.com/dockops/services/jobtracker/internal/models"
)

// ElasticClient provides integration with Elasticsearch
type ElasticClient struct {
	client *elasticsearch.Client
	config config.ElasticConfig
}

// NewElasticClient creates a new Elasticsearch client
func NewElasticClient(cfg config.ElasticConfig) (*ElasticClient, error) {
	esConfig := elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	}

	client, err := elasticsearch.NewClient(esConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Elasticsearch client")
	}

	return &ElasticClient{
		client: client,
		config: cfg,
	}, nil
}

// IndexArchivedJob indexes a completed job so the archive is searchable
// by any attribute. The job id doubles as the document id, which makes
// re-archiving a job overwrite its document instead of duplicating it.
// A nil client is a no-op so the pipeline runs without search configured.
func (c *ElasticClient) IndexArchivedJob(ctx context.Context, job *models.ArchivedJob) error {
	if c == nil || c.client == nil {
		return nil
	}

	log.Debug().Str("job_id", job.JobID).Msg("indexing archived job")

	doc := map[string]interface{}{
		"job_id":              job.JobID,
		"status":              job.Status,
		"job_type":            job.JobType,
		"carrier":             job.Carrier,
		"market":              job.Market,
		"state":               job.State,
		"city":                job.City,
		"customer":            job.Customer,
		"assigned_driver":     job.AssignedDriver,
		"product_serial":      job.ProductSerial,
		"product_description": job.ProductDescription,
		"order_number":        job.OrderNumber,
		"signed_by":           job.SignedBy,
		"piece_count":         job.PieceCount,
		"white_glove":         job.WhiteGlove,
		"planned_date":        job.PlannedDate,
		"actual_date":         job.ActualDate,
		"delay_days":          job.DelayDays,
		"dwell_minutes":       job.DwellMinutes,
		"lead_time_days":      job.LeadTimeDays,
		"scan_count":          job.ScanCount,
		"archived_at":         job.ArchivedAt,
	}

	docJson, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "failed to marshal job document")
	}

	// Prepare the index request
	indexName := config.FormatIndex(c.config, c.config.Index)
	req := esapi.IndexRequest{
		Index:      indexName,
		DocumentID: job.JobID,
		Body:       bytes.NewReader(docJson),
		Refresh:    "true",
	}

	// Execute the request
	res, err := req.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "failed to execute Elasticsearch index request")
	}
	defer res.Body.Close()

	// Check for errors in the response
	if res.IsError() {
		var e map[string]interface{}
		if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
			return errors.Wrap(err, "failed to parse Elasticsearch error response")
		}
		return errors.Errorf("Elasticsearch index error: %v", e)
	}

	return nil
}

// SearchArchive searches archived jobs with the given criteria
func (c *ElasticClient) SearchArchive(ctx context.Context, query map[string]interface{}) ([]map[string]interface{}, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("search is not configured")
	}

	// Convert query to JSON
	queryJSON, err := json.Marshal(query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal search query")
	}

	// Prepare the search request
	indexName := config.FormatIndex(c.config, c.config.Index)
	req := esapi.SearchRequest{
		Index: []string{indexName},
		Body:  bytes.NewReader(queryJSON),
	}

	// Execute the request
	res, err := req.Do(ctx, c.client)
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute Elasticsearch search request")
	}
	defer res.Body.Close()

	// Check for errors in the response
	if res.IsError() {
		var e map[string]interface{}
		if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
			return nil, errors.Wrap(err, "failed to parse Elasticsearch error response")
		}
		return nil, errors.Errorf("Elasticsearch search error: %v", e)
	}

	// Parse the response
	var result map[string]interface{}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, errors.Wrap(err, "failed to parse Elasticsearch search response")
	}

	// Extract the hits
	hits, ok := result["hits"].(map[string]interface{})
	if !ok {
		return nil, errors.New("unexpected search result format")
	}

	hitsArray, ok := hits["hits"].([]interface{})
	if !ok {
		return nil, errors.New("unexpected hits format")
	}

	// Extract the documents
	var docs []map[string]interface{}
	for _, hit := range hitsArray {
		hitMap, ok := hit.(map[string]interface{})
		if !ok {
			continue
		}

		source, ok := hitMap["_source"].(map[string]interface{})
		if !ok {
			continue
		}

		docs = append(docs, source)
	}

	return docs, nil
}
