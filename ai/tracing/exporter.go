package tracing

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"
)

// Exporter receives finished traces. Export must not block the caller.
type Exporter interface {
	Export(trace *Trace)
}

// LogExporter writes traces to structured logs.
type LogExporter struct {
	logger *slog.Logger
}

// NewLogExporter creates a log exporter.
func NewLogExporter() *LogExporter {
	return &LogExporter{
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})),
	}
}

// Export logs the trace and flags slow phases.
func (e *LogExporter) Export(trace *Trace) {
	if trace == nil {
		return
	}
	phases := trace.Phases()
	e.logger.Info("pipeline_trace",
		"trace_id", trace.TraceID,
		"operation", trace.Operation,
		"status", string(trace.Status),
		"duration_ms", trace.Duration().Milliseconds(),
		"phases", len(phases),
	)
	for _, phase := range phases {
		if phase.Error != "" {
			e.logger.Error("phase_error",
				"trace_id", trace.TraceID,
				"phase", phase.Name,
				"error", phase.Error,
			)
			continue
		}
		if phase.Duration > time.Second {
			e.logger.Warn("slow_phase",
				"trace_id", trace.TraceID,
				"phase", phase.Name,
				"duration_ms", phase.Duration.Milliseconds(),
			)
		}
	}
}

// OTLPConfig configures the OTLP exporter.
type OTLPConfig struct {
	Endpoint     string // OTLP/HTTP traces endpoint
	ServiceName  string
	BatchSize    int
	BatchTimeout time.Duration
	QueueSize    int
}

// DefaultOTLPConfig returns the exporter defaults.
func DefaultOTLPConfig() OTLPConfig {
	return OTLPConfig{
		Endpoint:     "http://localhost:4318/v1/traces",
		ServiceName:  "banter",
		BatchSize:    100,
		BatchTimeout: 5 * time.Second,
		QueueSize:    1000,
	}
}

// OTLPExporter batches traces and posts them as OTLP/HTTP JSON.
type OTLPExporter struct {
	cfg    OTLPConfig
	client *http.Client

	queue chan *Trace
	wg    sync.WaitGroup
	once  sync.Once
}

// NewOTLPExporter creates the exporter and starts its batch loop.
func NewOTLPExporter(cfg OTLPConfig) *OTLPExporter {
	defaults := DefaultOTLPConfig()
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaults.Endpoint
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = defaults.ServiceName
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = defaults.BatchTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaults.QueueSize
	}

	e := &OTLPExporter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		queue:  make(chan *Trace, cfg.QueueSize),
	}
	e.once.Do(func() {
		e.wg.Add(1)
		go e.loop()
	})
	return e
}

// Export queues the trace, dropping it when the queue is full.
func (e *OTLPExporter) Export(trace *Trace) {
	if trace == nil {
		return
	}
	select {
	case e.queue <- trace:
	default:
		slog.Warn("trace queue full, dropping trace", "trace_id", trace.TraceID)
	}
}

// Close flushes pending traces and stops the loop.
func (e *OTLPExporter) Close() {
	close(e.queue)
	e.wg.Wait()
}

func (e *OTLPExporter) loop() {
	defer e.wg.Done()

	pending := make([]*Trace, 0, e.cfg.BatchSize)
	ticker := time.NewTicker(e.cfg.BatchTimeout)
	defer ticker.Stop()

	flush := func() {
		if len(pending) == 0 {
			return
		}
		e.sendBatch(pending)
		pending = pending[:0]
	}

	for {
		select {
		case trace, ok := <-e.queue:
			if !ok {
				flush()
				return
			}
			pending = append(pending, trace)
			if len(pending) >= e.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// OTLP/HTTP JSON payload shapes, the subset the collector needs.
type otlpPayload struct {
	ResourceSpans []otlpResourceSpans `json:"resourceSpans"`
}

type otlpResourceSpans struct {
	Resource   otlpResource     `json:"resource"`
	ScopeSpans []otlpScopeSpans `json:"scopeSpans"`
}

type otlpResource struct {
	Attributes []otlpAttribute `json:"attributes"`
}

type otlpScopeSpans struct {
	Spans []otlpSpan `json:"spans"`
}

type otlpSpan struct {
	TraceID           string          `json:"traceId"`
	SpanID            string          `json:"spanId"`
	Name              string          `json:"name"`
	StartTimeUnixNano int64           `json:"startTimeUnixNano,string"`
	EndTimeUnixNano   int64           `json:"endTimeUnixNano,string"`
	Attributes        []otlpAttribute `json:"attributes"`
	Events            []otlpEvent     `json:"events,omitempty"`
}

type otlpEvent struct {
	TimeUnixNano int64           `json:"timeUnixNano,string"`
	Name         string          `json:"name"`
	Attributes   []otlpAttribute `json:"attributes,omitempty"`
}

type otlpAttribute struct {
	Key   string    `json:"key"`
	Value otlpValue `json:"value"`
}

type otlpValue struct {
	StringValue string `json:"stringValue"`
}

func (e *OTLPExporter) sendBatch(traces []*Trace) {
	spans := make([]otlpSpan, 0, len(traces))
	for _, t := range traces {
		spans = append(spans, toOTLPSpan(t))
	}
	payload := otlpPayload{ResourceSpans: []otlpResourceSpans{{
		Resource: otlpResource{Attributes: []otlpAttribute{
			{Key: "service.name", Value: otlpValue{StringValue: e.cfg.ServiceName}},
		}},
		ScopeSpans: []otlpScopeSpans{{Spans: spans}},
	}}}

	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to marshal trace batch", "error", err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, e.cfg.Endpoint, bytes.NewReader(data))
	if err != nil {
		slog.Error("failed to create trace request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		slog.Error("failed to send trace batch", "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		slog.Error("trace collector returned error", "status", resp.StatusCode)
	}
}

func toOTLPSpan(t *Trace) otlpSpan {
	start := t.StartTime.UnixNano()
	end := start + t.Duration().Nanoseconds()

	span := otlpSpan{
		TraceID:           traceIDHex(t.TraceID),
		SpanID:            traceIDHex(t.TraceID)[:16],
		Name:              t.Operation,
		StartTimeUnixNano: start,
		EndTimeUnixNano:   end,
		Attributes: []otlpAttribute{
			{Key: "status", Value: otlpValue{StringValue: string(t.Status)}},
		},
	}
	for k, v := range t.Tags {
		span.Attributes = append(span.Attributes, otlpAttribute{Key: k, Value: otlpValue{StringValue: v}})
	}
	for _, phase := range t.Phases() {
		event := otlpEvent{
			TimeUnixNano: phase.StartTime.UnixNano(),
			Name:         phase.Name,
		}
		if phase.Error != "" {
			event.Attributes = append(event.Attributes, otlpAttribute{Key: "error", Value: otlpValue{StringValue: phase.Error}})
		}
		span.Events = append(span.Events, event)
	}
	return span
}

// traceIDHex strips uuid dashes; OTLP wants 32 hex chars.
func traceIDHex(id string) string {
	out := make([]byte, 0, 32)
	for i := 0; i < len(id); i++ {
		if id[i] != '-' {
			out = append(out, id[i])
		}
	}
	return string(out)
}

// CompositeExporter fans a trace out to several exporters.
type CompositeExporter struct {
	exporters []Exporter
}

// NewCompositeExporter combines exporters.
func NewCompositeExporter(exporters ...Exporter) *CompositeExporter {
	return &CompositeExporter{exporters: exporters}
}

func (e *CompositeExporter) Export(trace *Trace) {
	for _, exp := range e.exporters {
		exp.Export(trace)
	}
}
