// Package reconcile сверяет локальные заказы с состоянием у провайдеров.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/smmsync/internal/domain"
	"github.com/vladislavdragonenkov/smmsync/internal/metrics"
	"github.com/vladislavdragonenkov/smmsync/internal/provider"
	"github.com/vladislavdragonenkov/smmsync/internal/service/audit"
	"github.com/vladislavdragonenkov/smmsync/internal/service/refund"
	"github.com/vladislavdragonenkov/smmsync/internal/status"
)

// Причины пропуска заказа.
const (
	ReasonMissingProviderOrderID = "missing_provider_order_id"
	ReasonProviderInactive       = "provider_inactive"
	ReasonProviderNotFound       = "provider_not_found"
	ReasonProviderUnresolved     = "provider_unresolved"
)

// Причины досрочной остановки прогона.
const (
	StopTimeBudget = "time_budget_exhausted"
	StopMaxOrders  = "max_orders_reached"
	StopCancelled  = "cancelled"
)

const maxApplyAttempts = 3

// persistAllowance — запас времени на сохранение сверх таймаута провайдера.
const persistAllowance = 15 * time.Second

// Fetcher запрашивает статус заказа у провайдера.
type Fetcher interface {
	FetchStatus(ctx context.Context, p domain.Provider, order domain.Order) (provider.StatusResult, error)
}

// FetcherFactory создаёт Fetcher на один прогон, чтобы лимиты и кеш спецификаций не переживали прогон.
type FetcherFactory func() Fetcher

// ClientFetchers строит фабрику поверх HTTP-клиента провайдеров.
func ClientFetchers(client *provider.Client) FetcherFactory {
	return func() Fetcher { return client.NewSession() }
}

// Config задаёт ограничения прогона.
type Config struct {
	TimeBudget time.Duration
	MaxOrders  int
	// SyncAllCap — жёсткий предел выборки для режима «синхронизировать всё».
	SyncAllCap int
}

// DefaultConfig возвращает ограничения по умолчанию.
func DefaultConfig() Config {
	return Config{
		TimeBudget: 50 * time.Second,
		MaxOrders:  100,
		SyncAllCap: 500,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.TimeBudget <= 0 {
		c.TimeBudget = def.TimeBudget
	}
	if c.MaxOrders <= 0 {
		c.MaxOrders = def.MaxOrders
	}
	if c.SyncAllCap <= 0 {
		c.SyncAllCap = def.SyncAllCap
	}
	return c
}

// Request — параметры одного прогона. TimeBudget и MaxOrders могут только ужесточить Config.
type Request struct {
	OrderIDs   []string
	SyncAll    bool
	ProviderID string
	Action     domain.SyncAction
	TimeBudget time.Duration
	MaxOrders  int
}

// Result — итог по одному заказу.
type Result struct {
	OrderID        string             `json:"orderId"`
	ProviderID     string             `json:"providerId,omitempty"`
	Updated        bool               `json:"updated"`
	Refunded       bool               `json:"refunded,omitempty"`
	Skipped        bool               `json:"skipped,omitempty"`
	Reason         string             `json:"reason,omitempty"`
	PreviousStatus domain.OrderStatus `json:"previousStatus,omitempty"`
	Status         domain.OrderStatus `json:"status,omitempty"`
	ProviderStatus string             `json:"providerStatus,omitempty"`
	Error          string             `json:"error,omitempty"`
}

// Summary — итог прогона.
type Summary struct {
	RunID          string   `json:"runId"`
	SyncedCount    int      `json:"syncedCount"`
	TotalProcessed int      `json:"totalProcessed"`
	TotalChecked   int      `json:"totalChecked"`
	FailedCount    int      `json:"failedCount"`
	SkippedCount   int      `json:"skippedCount"`
	RefundedCount  int      `json:"refundedCount"`
	Partial        bool     `json:"partial"`
	StopReason     string   `json:"stopReason,omitempty"`
	Results        []Result `json:"results"`
}

// Dependencies — коллабораторы оркестратора.
type Dependencies struct {
	Orders      domain.OrderRepository
	Providers   domain.ProviderRepository
	Fetchers    FetcherFactory
	Audit       *audit.Logger
	Refunds     *refund.Handler
	Broadcaster domain.Broadcaster
	Normalizer  *status.Normalizer
	Metrics     *metrics.SyncMetrics
	Logger      *log.Entry
	// Clock подменяет time.Now (для тестов бюджета).
	Clock func() time.Time
}

// Orchestrator выполняет прогоны синхронизации. Провайдеры и заказы обрабатываются последовательно.
type Orchestrator struct {
	orders      domain.OrderRepository
	providers   domain.ProviderRepository
	fetchers    FetcherFactory
	audit       *audit.Logger
	refunds     *refund.Handler
	broadcaster domain.Broadcaster
	normalizer  *status.Normalizer
	metrics     *metrics.SyncMetrics
	logger      *log.Entry
	now         func() time.Time
	cfg         Config

	active atomic.Int32
}

// NewOrchestrator создаёт оркестратор.
func NewOrchestrator(deps Dependencies, cfg Config) (*Orchestrator, error) {
	if deps.Orders == nil || deps.Providers == nil || deps.Fetchers == nil || deps.Audit == nil || deps.Refunds == nil {
		return nil, errors.New("reconcile: orders, providers, fetchers, audit and refunds are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.New().WithField("component", "sync-orchestrator")
	}
	normalizer := deps.Normalizer
	if normalizer == nil {
		normalizer = status.NewNormalizer(logger)
	}
	broadcaster := deps.Broadcaster
	if broadcaster == nil {
		broadcaster = noopBroadcaster{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Orchestrator{
		orders:      deps.Orders,
		providers:   deps.Providers,
		fetchers:    deps.Fetchers,
		audit:       deps.Audit,
		refunds:     deps.Refunds,
		broadcaster: broadcaster,
		normalizer:  normalizer,
		metrics:     deps.Metrics,
		logger:      logger,
		now:         clock,
		cfg:         cfg.withDefaults(),
	}, nil
}

// ActiveRuns возвращает число выполняющихся прогонов.
func (o *Orchestrator) ActiveRuns() int {
	return int(o.active.Load())
}

// run — состояние одного прогона.
type run struct {
	id        string
	action    domain.SyncAction
	started   time.Time
	budget    time.Duration
	maxOrders int
	fetcher   Fetcher
	total     int
	summary   Summary
}

// Run выполняет один прогон. Ошибки отдельных заказов попадают в Summary;
// ошибка возвращается только если прогон не может продолжаться.
func (o *Orchestrator) Run(ctx context.Context, req Request) (summary Summary, err error) {
	if !req.SyncAll && len(req.OrderIDs) == 0 {
		return Summary{}, fmt.Errorf("%w: order ids are required unless sync all is requested", domain.ErrInvalidSyncRequest)
	}
	if req.Action != "" && !req.Action.Valid() {
		return Summary{}, fmt.Errorf("%w: unknown action %q", domain.ErrInvalidSyncRequest, req.Action)
	}

	r := o.newRun(req)
	logger := o.logger.WithFields(log.Fields{
		"run_id": r.id,
		"action": r.action,
	})

	o.active.Add(1)
	o.metrics.RunStarted()
	defer func() {
		o.active.Add(-1)
		if rec := recover(); rec != nil {
			logger.WithField("panic", rec).WithField("stack", string(debug.Stack())).Error("sync run aborted by panic")
			summary = r.summary
			summary.Partial = true
			err = fmt.Errorf("%w: %v", domain.ErrRunAborted, rec)
		}
		o.metrics.RunFinished(string(r.action), runOutcome(summary, err), o.now().Sub(r.started))
	}()

	candidates, err := o.loadCandidates(ctx, req)
	if err != nil {
		logger.WithError(err).Error("failed to load sync candidates")
		return r.summary, err
	}
	r.summary.TotalChecked = len(candidates)

	grouping, err := GroupByProvider(ctx, candidates, o.audit, req.ProviderID, logger)
	if err != nil {
		logger.WithError(err).Error("failed to group orders by provider")
		return r.summary, err
	}
	for _, order := range grouping.Unresolved {
		r.skip(order, "", ReasonProviderUnresolved)
	}

	plan, err := o.planGroups(ctx, r, grouping.Groups, logger)
	if err != nil {
		return r.summary, err
	}
	r.total = plan.eligible()
	if r.total > r.maxOrders {
		r.total = r.maxOrders
	}
	o.publishProgress(ctx, r, "")

	if err := o.processPlan(ctx, r, plan); err != nil {
		return r.summary, err
	}

	logger.WithFields(log.Fields{
		"synced":    r.summary.SyncedCount,
		"processed": r.summary.TotalProcessed,
		"checked":   r.summary.TotalChecked,
		"failed":    r.summary.FailedCount,
		"skipped":   r.summary.SkippedCount,
		"refunded":  r.summary.RefundedCount,
		"partial":   r.summary.Partial,
		"stop":      r.summary.StopReason,
		"elapsed":   o.now().Sub(r.started).String(),
	}).Info("sync run finished")
	return r.summary, nil
}

func (o *Orchestrator) newRun(req Request) *run {
	budget := o.cfg.TimeBudget
	if req.TimeBudget > 0 && req.TimeBudget < budget {
		budget = req.TimeBudget
	}
	maxOrders := o.cfg.MaxOrders
	if req.MaxOrders > 0 && req.MaxOrders < maxOrders {
		maxOrders = req.MaxOrders
	}
	action := req.Action
	if action == "" {
		action = domain.SyncActionManual
		if req.SyncAll {
			action = domain.SyncActionBulk
		}
	}

	id := uuid.NewString()
	return &run{
		id:        id,
		action:    action,
		started:   o.now(),
		budget:    budget,
		maxOrders: maxOrders,
		fetcher:   o.fetchers(),
		summary:   Summary{RunID: id, Results: []Result{}},
	}
}

func (o *Orchestrator) loadCandidates(ctx context.Context, req Request) ([]domain.Order, error) {
	if req.SyncAll {
		orders, err := o.orders.ListSyncCandidates(ctx, domain.CandidateFilter{
			ProviderID: req.ProviderID,
			Limit:      o.cfg.SyncAllCap,
		})
		if err != nil {
			return nil, fmt.Errorf("list sync candidates: %w", err)
		}
		return orders, nil
	}

	orders, err := o.orders.GetMany(ctx, uniqueIDs(req.OrderIDs))
	if err != nil {
		return nil, fmt.Errorf("load orders: %w", err)
	}
	return orders, nil
}

// plannedGroup — группа с загруженным провайдером и заказами, которые реально пойдут к нему.
type plannedGroup struct {
	provider domain.Provider
	orders   []domain.Order
}

type runPlan []plannedGroup

func (p runPlan) eligible() int {
	n := 0
	for _, g := range p {
		n += len(g.orders)
	}
	return n
}

// planGroups загружает провайдеров и сразу пропускает заказы, которые синхронизировать нельзя:
// неизвестный или неактивный провайдер, пустой удалённый идентификатор.
func (o *Orchestrator) planGroups(ctx context.Context, r *run, groups []Group, logger *log.Entry) (runPlan, error) {
	plan := make(runPlan, 0, len(groups))
	for _, group := range groups {
		p, err := o.providers.Get(ctx, group.ProviderID)
		if errors.Is(err, domain.ErrProviderNotFound) {
			logger.WithField("provider_id", group.ProviderID).Warn("provider not found, skipping its orders")
			o.skipOrders(r, group.ProviderID, group.Orders, ReasonProviderNotFound)
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				// прогон отменён: processPlan остановится с StopCancelled
				return plan, nil
			}
			return nil, fmt.Errorf("load provider %s: %w", group.ProviderID, err)
		}
		if !p.Active() {
			logger.WithField("provider_id", p.ID).Info("provider is inactive, skipping its orders")
			o.skipOrders(r, p.ID, group.Orders, ReasonProviderInactive)
			continue
		}

		ready := make([]domain.Order, 0, len(group.Orders))
		for _, order := range group.Orders {
			if _, ok := order.RemoteID(); !ok {
				o.skipOrders(r, p.ID, []domain.Order{order}, ReasonMissingProviderOrderID)
				continue
			}
			ready = append(ready, order)
		}
		if len(ready) > 0 {
			plan = append(plan, plannedGroup{provider: p, orders: ready})
		}
	}
	return plan, nil
}

// processPlan обходит провайдеров и заказы по очереди. Отмена ctx и бюджет
// проверяются только между заказами: начатый заказ доводится до конца
// под собственным таймаутом.
func (o *Orchestrator) processPlan(ctx context.Context, r *run, plan runPlan) error {
	for _, group := range plan {
		for _, order := range group.orders {
			if r.stop(ctx, o.now()) {
				return nil
			}

			orderCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), group.provider.Timeout()+persistAllowance)
			res, err := o.syncOrder(orderCtx, r, group.provider, order)
			cancel()
			if err != nil {
				return err
			}

			r.record(res)
			o.publishProgress(context.WithoutCancel(ctx), r, order.ID)
		}
	}
	return nil
}

// syncOrder обрабатывает один заказ: Fetch → Classify → Apply.
// Ошибка возвращается только для сбоев, при которых прогон продолжать нельзя.
func (o *Orchestrator) syncOrder(ctx context.Context, r *run, p domain.Provider, order domain.Order) (Result, error) {
	result := Result{
		OrderID:        order.ID,
		ProviderID:     p.ID,
		PreviousStatus: order.Status,
		Status:         order.Status,
		ProviderStatus: order.ProviderStatus,
	}
	logger := o.logger.WithFields(log.Fields{
		"run_id":      r.id,
		"order_id":    order.ID,
		"provider_id": p.ID,
	})

	fetchStart := o.now()
	fetched, err := r.fetcher.FetchStatus(ctx, p, order)
	o.metrics.RecordFetch(p.ID, o.now().Sub(fetchStart))
	if err != nil {
		logger.WithError(err).Warn("provider status request failed")
		o.audit.Record(ctx, audit.Entry{
			OrderID:    order.ID,
			ProviderID: p.ID,
			Action:     r.action,
			Status:     domain.LogStatusFailed,
			Response:   fetched.Raw,
			Err:        err,
		})
		o.metrics.RecordOrder(p.ID, metrics.ResultFailed)
		result.Error = err.Error()
		return result, nil
	}

	o.audit.Record(ctx, audit.Entry{
		OrderID:    order.ID,
		ProviderID: p.ID,
		Action:     r.action,
		Status:     domain.LogStatusSuccess,
		Response:   fetched.Raw,
	})

	update := o.buildUpdate(order, fetched)
	result.Status = update.Status
	result.ProviderStatus = update.ProviderStatus

	saved, refunded, changed, err := o.apply(ctx, order, update)
	if err != nil {
		if isOrderLevel(err) {
			logger.WithError(err).Warn("failed to persist provider status")
			o.metrics.RecordOrder(p.ID, metrics.ResultFailed)
			result.Error = err.Error()
			return result, nil
		}
		return result, fmt.Errorf("persist order %s: %w", order.ID, err)
	}
	result.Updated = changed
	result.Refunded = refunded

	if changed {
		o.metrics.RecordOrder(p.ID, metrics.ResultUpdated)
	} else {
		o.metrics.RecordOrder(p.ID, metrics.ResultUnchanged)
	}

	o.broadcaster.PublishOrderUpdate(ctx, domain.OrderUpdateEvent{
		OrderID:        saved.ID,
		UserID:         saved.UserID,
		ProviderID:     p.ID,
		PreviousStatus: order.Status,
		Status:         saved.Status,
		ProviderStatus: saved.ProviderStatus,
		StartCount:     saved.StartCount,
		Remains:        saved.Remains,
		Charge:         saved.Charge.String(),
		Updated:        changed,
		Refunded:       refunded,
		OccurredAt:     o.now().UTC(),
	})
	return result, nil
}

// buildUpdate переносит данные провайдера в обновление; отсутствующие поля сохраняют текущие значения.
// Нераспознанный статус не меняет статус заказа, применяются только счётчики.
func (o *Orchestrator) buildUpdate(order domain.Order, fetched provider.StatusResult) domain.SyncUpdate {
	update := domain.SyncUpdate{
		Status:         order.Status,
		ProviderStatus: order.ProviderStatus,
		StartCount:     order.StartCount,
		Remains:        order.Remains,
		Charge:         order.Charge,
		SyncedAt:       o.now().UTC(),
	}
	if normalized, ok := o.normalizer.Normalize(fetched.RawStatus); ok {
		update.Status = normalized
		update.ProviderStatus = string(normalized)
	}
	if fetched.StartCount != nil {
		update.StartCount = *fetched.StartCount
	}
	if fetched.Remains != nil {
		update.Remains = *fetched.Remains
	}
	if fetched.Charge != nil {
		update.Charge = *fetched.Charge
	}
	return update
}

// apply сохраняет обновление. Отмена идёт через refund.Handler, остальное через ApplySync
// с перечитыванием заказа при конфликте версий.
func (o *Orchestrator) apply(ctx context.Context, order domain.Order, update domain.SyncUpdate) (saved domain.Order, refunded, changed bool, err error) {
	current := order
	for attempt := 1; attempt <= maxApplyAttempts; attempt++ {
		if !update.Differs(current) {
			if err := o.orders.TouchSync(ctx, current.ID, update.SyncedAt); err != nil {
				return current, false, false, err
			}
			current.LastSyncAt = domain.LaterSync(current.LastSyncAt, update.SyncedAt)
			return current, false, false, nil
		}

		if update.Status.IsCancelled() && !current.WasCancelled() {
			settlement, err := o.refunds.ApplyCancellation(ctx, current, update)
			if err != nil {
				return current, false, false, err
			}
			return settlement.Order, settlement.Refunded, true, nil
		}

		saved, err := o.orders.ApplySync(ctx, current, update)
		if err == nil {
			return saved, false, true, nil
		}
		if !domain.IsVersionConflict(err) || attempt == maxApplyAttempts {
			return current, false, false, err
		}

		o.logger.WithFields(log.Fields{
			"order_id": current.ID,
			"attempt":  attempt,
			"version":  current.Version,
		}).Warn("version conflict detected, reloading order")
		fresh, loadErr := o.orders.Get(ctx, current.ID)
		if loadErr != nil {
			return current, false, false, loadErr
		}
		current = fresh
	}
	return current, false, false, domain.ErrOrderVersionConflict
}

func (o *Orchestrator) publishProgress(ctx context.Context, r *run, currentOrderID string) {
	o.broadcaster.PublishProgress(ctx, domain.ProgressEvent{
		RunID:          r.id,
		Total:          r.total,
		Processed:      r.summary.TotalProcessed,
		Synced:         r.summary.SyncedCount,
		CurrentOrderID: currentOrderID,
		OccurredAt:     o.now().UTC(),
	})
}

// stop проверяет отмену и бюджет перед следующим заказом.
func (r *run) stop(ctx context.Context, now time.Time) bool {
	if r.summary.StopReason != "" {
		return true
	}
	switch {
	case ctx.Err() != nil:
		r.summary.StopReason = StopCancelled
	case now.Sub(r.started) >= r.budget:
		r.summary.StopReason = StopTimeBudget
	case r.summary.TotalProcessed >= r.maxOrders:
		r.summary.StopReason = StopMaxOrders
	default:
		return false
	}
	r.summary.Partial = true
	return true
}

func (r *run) record(res Result) {
	r.summary.TotalProcessed++
	switch {
	case res.Error != "":
		r.summary.FailedCount++
	case res.Updated:
		r.summary.SyncedCount++
	}
	if res.Refunded {
		r.summary.RefundedCount++
	}
	r.summary.Results = append(r.summary.Results, res)
}

func (r *run) skip(order domain.Order, providerID, reason string) {
	r.summary.SkippedCount++
	r.summary.Results = append(r.summary.Results, Result{
		OrderID:        order.ID,
		ProviderID:     providerID,
		Skipped:        true,
		Reason:         reason,
		PreviousStatus: order.Status,
		Status:         order.Status,
		ProviderStatus: order.ProviderStatus,
	})
}

func (o *Orchestrator) skipOrders(r *run, providerID string, orders []domain.Order, reason string) {
	for _, order := range orders {
		r.skip(order, providerID, reason)
		o.metrics.RecordOrder(providerID, metrics.ResultSkipped)
	}
}

// isOrderLevel отделяет ошибки конкретного заказа от недоступности хранилища.
func isOrderLevel(err error) bool {
	return domain.IsVersionConflict(err) || domain.IsNotFound(err) || errors.Is(err, domain.ErrInvalidProviderOrderID)
}

func runOutcome(summary Summary, err error) string {
	switch {
	case err != nil:
		return "failed"
	case summary.Partial:
		return "partial"
	}
	return "completed"
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

type noopBroadcaster struct{}

func (noopBroadcaster) PublishProgress(context.Context, domain.ProgressEvent)       {}
func (noopBroadcaster) PublishOrderUpdate(context.Context, domain.OrderUpdateEvent) {}
