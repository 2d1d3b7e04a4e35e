package service

import (
	"context"
	"math"
	"sync"
	"time"

	"opspulse/core"
	"opspulse/metrics"
	"opspulse/storage"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ScopeMode selects which tenants are visible in the aggregated view
type ScopeMode string

const (
	ScopeProductionOnly ScopeMode = "production_only"
	ScopeAll            ScopeMode = "all"
)

// IsValid checks if the scope mode is a recognized value
func (m ScopeMode) IsValid() bool {
	return m == ScopeProductionOnly || m == ScopeAll
}

// BlockStatus describes how one section of the aggregated view was produced
type BlockStatus string

const (
	BlockOK              BlockStatus = "ok"
	BlockEmpty           BlockStatus = "empty"
	BlockDegradedConfig  BlockStatus = "degraded_config"
	BlockDegradedService BlockStatus = "degraded_service"
)

// BlockMeta carries per-block observability fields
type BlockMeta struct {
	TraceID       string     `json:"trace_id"`
	DurationMs    int64      `json:"duration_ms"`
	RowCount      int        `json:"row_count"`
	LastUpdatedAt *time.Time `json:"last_updated_at,omitempty"`
}

// Block is one isolated section of the aggregated view. A degraded block
// carries a fallback value and a human message instead of failing the response.
type Block[T any] struct {
	Status  BlockStatus `json:"status"`
	Data    T           `json:"data"`
	Message string      `json:"message,omitempty"`
	Code    string      `json:"code,omitempty"`
	Meta    BlockMeta   `json:"meta"`
}

// TenantKPIs are the tenant-facing headline numbers, computed from the
// scope-filtered alert set only.
type TenantKPIs struct {
	TotalTenants    int `json:"total_tenants"`
	BillingIssues   int `json:"tenants_with_billing_issues"`
	ActiveTrials    int `json:"active_trials"`
	InactiveTenants int `json:"inactive_tenants"`
	AffectedTenants int `json:"affected_tenants"`
}

// OpsMetrics are the operator-facing numbers for the filtered alert set.
type OpsMetrics struct {
	OpenAlerts          int        `json:"open_alerts"`
	BreachedSLA         int        `json:"breached_sla"`
	SLACompliancePct    int        `json:"sla_compliance_pct"`
	LastEvaluationAt    *time.Time `json:"last_evaluation_at,omitempty"`
	RecentNotifications int64      `json:"recent_notifications"`
}

// OrganizationSummary is the tenant row shown in the aggregated view
type OrganizationSummary struct {
	ID                 string                         `json:"id"`
	Name               string                         `json:"name"`
	Plan               string                         `json:"plan"`
	SubscriptionStatus core.SubscriptionStatus        `json:"subscription_status,omitempty"`
	MemberCount        int                            `json:"member_count"`
	Environment        core.EnvironmentClassification `json:"environment"`
}

// HygieneStats reconcile raw, visible, and environment-filtered alert counts.
// TotalRawIncidents always equals TotalOperationalIncidents plus
// HiddenByEnvironmentFilter.
type HygieneStats struct {
	TotalRawIncidents         int                          `json:"total_raw_incidents"`
	TotalOperationalIncidents int                          `json:"total_operational_incidents"`
	HiddenByEnvironmentFilter int                          `json:"hidden_by_environment_filter"`
	OrgsByClass               map[core.EnvironmentClass]int `json:"orgs_by_class"`
}

// ScopeEcho repeats the caller-selected visibility filter in the response
type ScopeEcho struct {
	Mode                 ScopeMode `json:"mode"`
	IncludeNonProductive bool      `json:"include_non_productive"`
}

// AggregatedPayload is the full operational overview response.
type AggregatedPayload struct {
	GeneratedAt time.Time                   `json:"generated_at"`
	ElapsedMs   int64                       `json:"elapsed_ms"`
	Scope       ScopeEcho                   `json:"scope"`
	Hygiene     HygieneStats                `json:"hygiene"`
	KPIs        Block[TenantKPIs]           `json:"kpis"`
	Orgs        Block[[]OrganizationSummary] `json:"orgs"`
	Alerts      Block[[]core.EnrichedAlert] `json:"alerts"`
	AlertGroups Block[[]core.AlertGroup]    `json:"alert_groups"`
	Ops         Block[OpsMetrics]           `json:"ops"`
}

// SnapshotCache caches assembled payloads per scope for a short TTL.
// Implementations must be failure-tolerant; a broken cache degrades to
// recomputation, it never fails a request.
type SnapshotCache interface {
	Get(ctx context.Context, mode ScopeMode, includeNonProductive bool) (*AggregatedPayload, bool)
	Set(ctx context.Context, mode ScopeMode, includeNonProductive bool, payload *AggregatedPayload)
}

// resolvedWindowDefault bounds the SLA compliance lookback
const resolvedWindowDefault = 30 * 24 * time.Hour

// notificationWindow bounds the recent-notification count in ops metrics
const notificationWindow = 24 * time.Hour

// AggregationService assembles the read-only operational overview. Each of its
// five data sources is fetched concurrently and fault-isolated: a failing
// source degrades its own block with a fallback value, never the response.
type AggregationService struct {
	alerts         AlertStore
	orgs           OrganizationStore
	audit          AuditStore
	notifications  NotificationStore
	cache          SnapshotCache
	tracer         trace.Tracer
	logger         *zap.SugaredLogger
	fetchTimeout   time.Duration
	resolvedWindow time.Duration
	now            func() time.Time
}

// NewAggregationService creates a new aggregation service. The audit store,
// notification store, and cache are optional; a missing store marks the
// dependent block degraded_config instead of failing.
func NewAggregationService(alerts AlertStore, orgs OrganizationStore, audit AuditStore, notifications NotificationStore, cache SnapshotCache, fetchTimeout time.Duration, logger *zap.SugaredLogger) *AggregationService {
	if alerts == nil || orgs == nil {
		panic("alert and organization stores are required")
	}
	if logger == nil {
		panic("logger is required")
	}
	if fetchTimeout <= 0 {
		fetchTimeout = 5 * time.Second
	}
	return &AggregationService{
		alerts:         alerts,
		orgs:           orgs,
		audit:          audit,
		notifications:  notifications,
		cache:          cache,
		tracer:         otel.Tracer("opspulse/aggregation"),
		logger:         logger,
		fetchTimeout:   fetchTimeout,
		resolvedWindow: resolvedWindowDefault,
		now:            time.Now,
	}
}

// sourceResult is the fault-isolated outcome of one data source fetch
type sourceResult[T any] struct {
	data     T
	status   BlockStatus
	message  string
	code     string
	traceID  string
	duration time.Duration
	rows     int
}

func (r sourceResult[T]) meta() BlockMeta {
	return BlockMeta{
		TraceID:    r.traceID,
		DurationMs: r.duration.Milliseconds(),
		RowCount:   r.rows,
	}
}

func (r sourceResult[T]) degraded() bool {
	return r.status == BlockDegradedConfig || r.status == BlockDegradedService
}

// fetchSource runs one data source call with its own timeout and span. A nil
// fn marks the source degraded_config without attempting anything.
func fetchSource[T any](ctx context.Context, s *AggregationService, name string, fn func(context.Context) (T, int, error)) sourceResult[T] {
	spanCtx, span := s.tracer.Start(ctx, "aggregation.fetch."+name)
	defer span.End()
	traceID := spanTraceID(span)

	if fn == nil {
		metrics.AggregationBlockDegraded.WithLabelValues(name, string(BlockDegradedConfig)).Inc()
		return sourceResult[T]{
			status:  BlockDegradedConfig,
			message: "data source is not configured",
			code:    "NOT_CONFIGURED",
			traceID: traceID,
		}
	}

	fetchCtx, cancel := context.WithTimeout(spanCtx, s.fetchTimeout)
	defer cancel()

	start := s.now()
	data, rows, err := fn(fetchCtx)
	elapsed := s.now().Sub(start)
	metrics.AggregationBlockDuration.WithLabelValues(name).Observe(elapsed.Seconds())

	if err != nil {
		appErr := NormalizeError(err)
		s.logger.Warnw("Aggregation source degraded", "source", name, "error", err, "trace_id", traceID)
		metrics.AggregationBlockDegraded.WithLabelValues(name, string(BlockDegradedService)).Inc()
		return sourceResult[T]{
			status:   BlockDegradedService,
			message:  appErr.Message,
			code:     string(appErr.Code),
			traceID:  traceID,
			duration: elapsed,
		}
	}

	status := BlockOK
	if rows == 0 {
		status = BlockEmpty
	}
	return sourceResult[T]{
		data:     data,
		status:   status,
		traceID:  traceID,
		duration: elapsed,
		rows:     rows,
	}
}

func spanTraceID(span trace.Span) string {
	if sc := span.SpanContext(); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return uuid.NewString()
}

// GetAggregatedView builds the operational overview for a scope. It never
// fails for a partial data-source outage; degraded sources are reported per
// block with fallback values.
func (s *AggregationService) GetAggregatedView(ctx context.Context, mode ScopeMode, includeNonProductive bool) (*AggregatedPayload, error) {
	if !mode.IsValid() {
		mode = ScopeAll
	}
	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, mode, includeNonProductive); ok {
			return cached, nil
		}
	}

	start := s.now()
	snap := s.fetchSnapshot(ctx, start)
	payload := s.assemble(snap, mode, includeNonProductive, start)
	payload.ElapsedMs = s.now().Sub(start).Milliseconds()

	// Outage views are not cached; the next request re-probes the sources
	// instead of pinning the degraded payload for the TTL. Config-degraded
	// blocks are stable per deployment and cache fine.
	if s.cache != nil && !payload.serviceDegraded() {
		s.cache.Set(ctx, mode, includeNonProductive, payload)
	}
	return payload, nil
}

// serviceDegraded reports whether any block failed on a live source call
func (p *AggregatedPayload) serviceDegraded() bool {
	return p.KPIs.Status == BlockDegradedService ||
		p.Orgs.Status == BlockDegradedService ||
		p.Alerts.Status == BlockDegradedService ||
		p.AlertGroups.Status == BlockDegradedService ||
		p.Ops.Status == BlockDegradedService
}

// snapshot holds the five independent source results for one request
type snapshot struct {
	orgs          sourceResult[[]core.Organization]
	openAlerts    sourceResult[[]storage.AlertWithOrganization]
	resolved      sourceResult[[]core.Alert]
	lastRun       sourceResult[*storage.AuditRecord]
	notifications sourceResult[int64]
}

// fetchSnapshot runs the five sources concurrently. A failure in one source
// never cancels its siblings.
func (s *AggregationService) fetchSnapshot(ctx context.Context, now time.Time) snapshot {
	var snap snapshot
	var wg sync.WaitGroup
	wg.Add(5)

	go func() {
		defer wg.Done()
		snap.orgs = fetchSource(ctx, s, "organizations", func(c context.Context) ([]core.Organization, int, error) {
			orgs, err := s.orgs.GetOrganizations(c)
			return orgs, len(orgs), err
		})
	}()
	go func() {
		defer wg.Done()
		snap.openAlerts = fetchSource(ctx, s, "open_alerts", func(c context.Context) ([]storage.AlertWithOrganization, int, error) {
			rows, err := s.alerts.GetOpenAlertsWithOrganizations(c)
			return rows, len(rows), err
		})
	}()
	go func() {
		defer wg.Done()
		snap.resolved = fetchSource(ctx, s, "resolved_alerts", func(c context.Context) ([]core.Alert, int, error) {
			rows, err := s.alerts.GetResolvedAlertsSince(c, now.Add(-s.resolvedWindow))
			return rows, len(rows), err
		})
	}()
	go func() {
		defer wg.Done()
		var fn func(context.Context) (*storage.AuditRecord, int, error)
		if s.audit != nil {
			fn = func(c context.Context) (*storage.AuditRecord, int, error) {
				rec, err := s.audit.LastByAction(c, AuditActionEvaluationRun)
				rows := 0
				if rec != nil {
					rows = 1
				}
				return rec, rows, err
			}
		}
		snap.lastRun = fetchSource(ctx, s, "last_evaluation", fn)
	}()
	go func() {
		defer wg.Done()
		var fn func(context.Context) (int64, int, error)
		if s.notifications != nil {
			fn = func(c context.Context) (int64, int, error) {
				count, err := s.notifications.CountSince(c, now.Add(-notificationWindow))
				return count, int(count), err
			}
		}
		snap.notifications = fetchSource(ctx, s, "notifications", fn)
	}()

	wg.Wait()
	return snap
}

// assemble is the deterministic pure transform over one fetched snapshot.
func (s *AggregationService) assemble(snap snapshot, mode ScopeMode, includeNonProductive bool, now time.Time) *AggregatedPayload {
	// Tenant lookup with environment classification.
	orgByID := make(map[string]*core.Organization, len(snap.orgs.data))
	envByOrg := make(map[string]core.EnvironmentClassification, len(snap.orgs.data))
	orgsByClass := make(map[core.EnvironmentClass]int)
	for i := range snap.orgs.data {
		org := &snap.orgs.data[i]
		env := core.ClassifyEnvironment(org, now)
		orgByID[org.ID] = org
		envByOrg[org.ID] = env
		orgsByClass[env.Class]++
	}

	// Deduplicate raw alerts by stable key, then enrich.
	rawAlerts := make([]core.Alert, 0, len(snap.openAlerts.data))
	orgNameByAlert := make(map[string]string, len(snap.openAlerts.data))
	for i := range snap.openAlerts.data {
		row := &snap.openAlerts.data[i]
		rawAlerts = append(rawAlerts, row.Alert)
		orgNameByAlert[row.Alert.ID] = row.Organization.Name
	}
	deduped := core.DeduplicateAlerts(rawAlerts)

	enriched := make([]core.EnrichedAlert, 0, len(deduped))
	for i := range deduped {
		alert := deduped[i]
		md := core.NormalizeMetadata(&alert, now)
		env, known := envByOrg[alert.OrganizationID]
		if !known {
			// Tenant source degraded or tenant gone; treat as unknown so the
			// alert is hidden from production-only views, not invented into them.
			env = core.EnvironmentClassification{Class: core.EnvUnknown, ExclusionReason: "tenant record unavailable"}
		}
		enriched = append(enriched, core.EnrichedAlert{
			Alert:            alert,
			Metadata:         md,
			State:            core.DeriveAlertState(&alert, md, now),
			OrganizationName: orgNameByAlert[alert.ID],
			Environment:      env,
		})
	}

	// Scope filter, then hygiene reconciliation over the dedup result.
	filtered := enriched
	if !includeNonProductive && mode == ScopeProductionOnly {
		filtered = make([]core.EnrichedAlert, 0, len(enriched))
		for i := range enriched {
			if enriched[i].Environment.IsRelevant {
				filtered = append(filtered, enriched[i])
			}
		}
	}
	hygiene := HygieneStats{
		TotalRawIncidents:         len(enriched),
		TotalOperationalIncidents: len(filtered),
		HiddenByEnvironmentFilter: len(enriched) - len(filtered),
		OrgsByClass:               orgsByClass,
	}

	inScope := s.scopedOrganizations(snap.orgs.data, envByOrg, mode, includeNonProductive)

	payload := &AggregatedPayload{
		GeneratedAt: now,
		Scope:       ScopeEcho{Mode: mode, IncludeNonProductive: includeNonProductive},
		Hygiene:     hygiene,
		Orgs:        s.orgsBlock(snap, inScope, envByOrg),
		Alerts:      s.alertsBlock(snap, filtered),
		AlertGroups: s.groupsBlock(snap, filtered),
		KPIs:        s.kpisBlock(snap, inScope, filtered, now),
		Ops:         s.opsBlock(snap, filtered, now),
	}
	return payload
}

func (s *AggregationService) scopedOrganizations(orgs []core.Organization, envByOrg map[string]core.EnvironmentClassification, mode ScopeMode, includeNonProductive bool) []core.Organization {
	if includeNonProductive || mode != ScopeProductionOnly {
		return orgs
	}
	scoped := make([]core.Organization, 0, len(orgs))
	for i := range orgs {
		if envByOrg[orgs[i].ID].IsRelevant {
			scoped = append(scoped, orgs[i])
		}
	}
	return scoped
}

func (s *AggregationService) orgsBlock(snap snapshot, inScope []core.Organization, envByOrg map[string]core.EnvironmentClassification) Block[[]OrganizationSummary] {
	block := Block[[]OrganizationSummary]{
		Status:  snap.orgs.status,
		Message: snap.orgs.message,
		Code:    snap.orgs.code,
		Meta:    snap.orgs.meta(),
		Data:    []OrganizationSummary{},
	}
	if snap.orgs.degraded() {
		return block
	}
	summaries := make([]OrganizationSummary, 0, len(inScope))
	for i := range inScope {
		org := &inScope[i]
		summary := OrganizationSummary{
			ID:          org.ID,
			Name:        org.Name,
			Plan:        org.Plan,
			MemberCount: org.MemberCount,
			Environment: envByOrg[org.ID],
		}
		if org.Subscription != nil {
			summary.SubscriptionStatus = org.Subscription.Status
		}
		summaries = append(summaries, summary)
	}
	block.Data = summaries
	block.Meta.RowCount = len(summaries)
	if len(summaries) == 0 {
		block.Status = BlockEmpty
	}
	return block
}

func (s *AggregationService) alertsBlock(snap snapshot, filtered []core.EnrichedAlert) Block[[]core.EnrichedAlert] {
	block := Block[[]core.EnrichedAlert]{
		Status:  snap.openAlerts.status,
		Message: snap.openAlerts.message,
		Code:    snap.openAlerts.code,
		Meta:    snap.openAlerts.meta(),
		Data:    []core.EnrichedAlert{},
	}
	if snap.openAlerts.degraded() {
		return block
	}
	block.Data = filtered
	block.Meta.RowCount = len(filtered)
	if len(filtered) == 0 {
		block.Status = BlockEmpty
	} else {
		block.Status = BlockOK
	}
	return block
}

func (s *AggregationService) groupsBlock(snap snapshot, filtered []core.EnrichedAlert) Block[[]core.AlertGroup] {
	block := Block[[]core.AlertGroup]{
		Status:  snap.openAlerts.status,
		Message: snap.openAlerts.message,
		Code:    snap.openAlerts.code,
		Meta:    snap.openAlerts.meta(),
		Data:    []core.AlertGroup{},
	}
	if snap.openAlerts.degraded() {
		return block
	}
	groups := core.BuildAlertGroups(filtered)
	block.Data = groups
	block.Meta.RowCount = len(groups)
	if len(groups) == 0 {
		block.Status = BlockEmpty
	} else {
		block.Status = BlockOK
	}
	return block
}

func (s *AggregationService) kpisBlock(snap snapshot, inScope []core.Organization, filtered []core.EnrichedAlert, now time.Time) Block[TenantKPIs] {
	block := Block[TenantKPIs]{Meta: snap.orgs.meta()}
	// KPIs need both tenants and alerts; the worse source wins.
	if snap.orgs.degraded() {
		block.Status = snap.orgs.status
		block.Message = snap.orgs.message
		block.Code = snap.orgs.code
		return block
	}
	if snap.openAlerts.degraded() {
		block.Status = snap.openAlerts.status
		block.Message = snap.openAlerts.message
		block.Code = snap.openAlerts.code
		block.Meta = snap.openAlerts.meta()
		return block
	}

	billingTenants := make(map[string]bool)
	inactiveTenants := make(map[string]bool)
	affectedTenants := make(map[string]bool)
	for i := range filtered {
		alert := &filtered[i].Alert
		affectedTenants[alert.OrganizationID] = true
		switch alert.RuleCode {
		case core.RuleBillingPastDue, core.RuleBillingNotConfigured:
			billingTenants[alert.OrganizationID] = true
		case core.RuleInactiveOrg:
			inactiveTenants[alert.OrganizationID] = true
		}
	}
	trials := 0
	for i := range inScope {
		if sub := inScope[i].Subscription; sub != nil && sub.Status == core.SubscriptionTrialing {
			trials++
		}
	}

	block.Data = TenantKPIs{
		TotalTenants:    len(inScope),
		BillingIssues:   len(billingTenants),
		ActiveTrials:    trials,
		InactiveTenants: len(inactiveTenants),
		AffectedTenants: len(affectedTenants),
	}
	block.Status = BlockOK
	if len(inScope) == 0 && len(filtered) == 0 {
		block.Status = BlockEmpty
	}
	block.Meta.RowCount = len(inScope)
	return block
}

func (s *AggregationService) opsBlock(snap snapshot, filtered []core.EnrichedAlert, now time.Time) Block[OpsMetrics] {
	block := Block[OpsMetrics]{Meta: snap.resolved.meta()}
	if snap.resolved.degraded() {
		block.Status = snap.resolved.status
		block.Message = snap.resolved.message
		block.Code = snap.resolved.code
		return block
	}

	open := 0
	breached := 0
	for i := range filtered {
		item := &filtered[i]
		if item.State != core.AlertStateResolved {
			open++
		}
		if item.Metadata.SLA != nil && item.Metadata.SLA.Status == core.SLABreached {
			breached++
		}
	}

	data := OpsMetrics{
		OpenAlerts:       open,
		BreachedSLA:      breached,
		SLACompliancePct: slaCompliance(snap.resolved.data, now),
	}
	if !snap.lastRun.degraded() && snap.lastRun.data != nil {
		at := snap.lastRun.data.CreatedAt
		data.LastEvaluationAt = &at
		block.Meta.LastUpdatedAt = &at
	}
	if !snap.notifications.degraded() {
		data.RecentNotifications = snap.notifications.data
	}

	block.Data = data
	block.Status = BlockOK
	if open == 0 && len(snap.resolved.data) == 0 {
		block.Status = BlockEmpty
	}
	block.Meta.RowCount = len(snap.resolved.data)
	return block
}

// slaCompliance is resolved-within-SLA over total-resolved as a rounded
// percentage. Alerts resolved without an SLA are excluded; with nothing
// to measure the rate defaults to 100.
func slaCompliance(resolved []core.Alert, now time.Time) int {
	total := 0
	within := 0
	for i := range resolved {
		alert := resolved[i]
		if alert.ResolvedAt == nil {
			continue
		}
		md := core.NormalizeMetadata(&alert, now)
		if md.SLA == nil {
			continue
		}
		total++
		if !alert.ResolvedAt.After(md.SLA.DueAt) {
			within++
		}
	}
	if total == 0 {
		return 100
	}
	return int(math.Round(float64(within) / float64(total) * 100))
}
