/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package quota

import (
	"context"
	"fmt"
	"strings"
	"time"

	"usdt-recharge-go/internal/metrics"
	"usdt-recharge-go/internal/models"
	"usdt-recharge-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Feature is one billable capability: a daily free allowance, then a price per use.
type Feature struct {
	Name        string
	DisplayName string
	FreeDaily   int
	Price       decimal.Decimal
}

func DefaultFeatures() []Feature {
	return []Feature{
		{Name: "tarot_reading", DisplayName: "Tarot reading", FreeDaily: 1, Price: decimal.RequireFromString("0.3")},
		{Name: "tarot_detail", DisplayName: "In-depth interpretation", FreeDaily: 0, Price: decimal.RequireFromString("0.5")},
		{Name: "ai_chat", DisplayName: "AI chat", FreeDaily: 10, Price: decimal.RequireFromString("0.1")},
	}
}

// UsageStore holds the per-day usage counters.
type UsageStore interface {
	GetDailyUsage(ctx context.Context, params store.UsageParams) (int, error)
	ConsumeFreeUsage(ctx context.Context, params store.UsageParams, limit int) (int, bool, error)
	IncrementUsage(ctx context.Context, params store.UsageParams) (int, error)
}

// Ledger is the balance side. *payment.Manager satisfies it.
type Ledger interface {
	GetBalance(ctx context.Context, userId string) (decimal.Decimal, error)
	DeductBalance(ctx context.Context, userId string, amount decimal.Decimal, feature string) (bool, error)
}

type Manager struct {
	usage    UsageStore
	ledger   Ledger
	features map[string]Feature
	order    []string
	loc      *time.Location
	now      func() time.Time
}

// NewManager builds a quota manager. Usage dates are calendar days in loc.
func NewManager(usage UsageStore, ledger Ledger, features []Feature, loc *time.Location) *Manager {
	if loc == nil {
		loc = time.Local
	}
	m := &Manager{
		usage:    usage,
		ledger:   ledger,
		features: make(map[string]Feature, len(features)),
		loc:      loc,
		now:      time.Now,
	}
	for _, f := range features {
		if _, dup := m.features[f.Name]; !dup {
			m.order = append(m.order, f.Name)
		}
		m.features[f.Name] = f
	}
	return m
}

func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

func (m *Manager) today() string {
	return m.now().In(m.loc).Format("2006-01-02")
}

func (m *Manager) Feature(name string) (Feature, bool) {
	f, ok := m.features[name]
	return f, ok
}

// CheckAndDeduct grants a free use while today's allowance lasts, then
// charges the feature price. A short balance is a denied result, not an error.
func (m *Manager) CheckAndDeduct(ctx context.Context, feature, userId string) (*models.QuotaResult, error) {
	f, ok := m.features[feature]
	if !ok {
		zap.L().Warn("Unknown feature, allowing by default", zap.String("feature", feature))
		metrics.QuotaDecisions.WithLabelValues("unknown", metrics.QuotaFree).Inc()
		return &models.QuotaResult{Allowed: true, IsFree: true, Cost: decimal.Zero, RemainingFree: -1, Balance: decimal.Zero}, nil
	}

	params := store.UsageParams{UserId: userId, Date: m.today(), Feature: feature}

	if f.FreeDaily > 0 {
		count, granted, err := m.usage.ConsumeFreeUsage(ctx, params, f.FreeDaily)
		if err != nil {
			return nil, fmt.Errorf("unable to consume free usage: %w", err)
		}
		if granted {
			balance, err := m.ledger.GetBalance(ctx, userId)
			if err != nil {
				return nil, err
			}
			remaining := f.FreeDaily - count
			zap.L().Info("Free feature use",
				zap.String("user_id", userId),
				zap.String("feature", feature),
				zap.Int("remaining_free", remaining))
			metrics.QuotaDecisions.WithLabelValues(feature, metrics.QuotaFree).Inc()
			return &models.QuotaResult{Allowed: true, IsFree: true, Cost: decimal.Zero, RemainingFree: remaining, Balance: balance}, nil
		}
	}

	balance, err := m.ledger.GetBalance(ctx, userId)
	if err != nil {
		return nil, err
	}

	if !f.Price.IsPositive() {
		m.countUse(ctx, params)
		metrics.QuotaDecisions.WithLabelValues(feature, metrics.QuotaFree).Inc()
		return &models.QuotaResult{Allowed: true, IsFree: true, Cost: decimal.Zero, RemainingFree: 0, Balance: balance}, nil
	}

	if balance.LessThan(f.Price) {
		zap.L().Info("Feature denied for insufficient balance",
			zap.String("user_id", userId),
			zap.String("feature", feature),
			zap.String("price", f.Price.String()),
			zap.String("balance", balance.String()))
		metrics.QuotaDecisions.WithLabelValues(feature, metrics.QuotaDenied).Inc()
		return m.denied(f, balance, insufficientMessage(f, balance)), nil
	}

	charged, err := m.ledger.DeductBalance(ctx, userId, f.Price, feature)
	if err != nil {
		return nil, err
	}
	if !charged {
		// Balance moved between the read and the debit.
		metrics.QuotaDecisions.WithLabelValues(feature, metrics.QuotaDenied).Inc()
		return m.denied(f, balance, "The charge could not be completed. Please try again later."), nil
	}

	m.countUse(ctx, params)

	newBalance, err := m.ledger.GetBalance(ctx, userId)
	if err != nil {
		return nil, err
	}
	zap.L().Info("Paid feature use",
		zap.String("user_id", userId),
		zap.String("feature", feature),
		zap.String("cost", f.Price.String()),
		zap.String("balance", newBalance.String()))
	metrics.QuotaDecisions.WithLabelValues(feature, metrics.QuotaPaid).Inc()
	return &models.QuotaResult{Allowed: true, IsFree: false, Cost: f.Price, RemainingFree: 0, Balance: newBalance}, nil
}

// countUse records a non-free use. The charge has already happened, so a
// counter failure is only logged.
func (m *Manager) countUse(ctx context.Context, params store.UsageParams) {
	if _, err := m.usage.IncrementUsage(ctx, params); err != nil {
		zap.L().Warn("Failed to record feature usage",
			zap.String("user_id", params.UserId),
			zap.String("feature", params.Feature),
			zap.Error(err))
	}
}

func (m *Manager) denied(f Feature, balance decimal.Decimal, message string) *models.QuotaResult {
	return &models.QuotaResult{
		Allowed:       false,
		IsFree:        false,
		Cost:          f.Price,
		RemainingFree: 0,
		Balance:       balance,
		Message:       message,
	}
}

// CheckOnly reports what CheckAndDeduct would decide without charging.
func (m *Manager) CheckOnly(ctx context.Context, feature, userId string) (*models.QuotaResult, error) {
	f, ok := m.features[feature]
	if !ok {
		return &models.QuotaResult{Allowed: true, IsFree: true, Cost: decimal.Zero, RemainingFree: -1, Balance: decimal.Zero}, nil
	}

	used, err := m.usage.GetDailyUsage(ctx, store.UsageParams{UserId: userId, Date: m.today(), Feature: feature})
	if err != nil {
		return nil, err
	}
	balance, err := m.ledger.GetBalance(ctx, userId)
	if err != nil {
		return nil, err
	}

	if f.FreeDaily > 0 && used < f.FreeDaily {
		return &models.QuotaResult{Allowed: true, IsFree: true, Cost: decimal.Zero, RemainingFree: f.FreeDaily - used, Balance: balance}, nil
	}
	if !balance.LessThan(f.Price) {
		return &models.QuotaResult{Allowed: true, IsFree: false, Cost: f.Price, RemainingFree: 0, Balance: balance}, nil
	}
	return m.denied(f, balance, insufficientMessage(f, balance)), nil
}

// GetDailySummary reports today's usage of every configured feature.
func (m *Manager) GetDailySummary(ctx context.Context, userId string) (*models.DailySummary, error) {
	date := m.today()
	summary := &models.DailySummary{
		Date:     date,
		Features: make(map[string]models.FeatureUsage, len(m.order)),
	}

	for _, name := range m.order {
		f := m.features[name]
		used, err := m.usage.GetDailyUsage(ctx, store.UsageParams{UserId: userId, Date: date, Feature: name})
		if err != nil {
			return nil, err
		}
		remaining := f.FreeDaily - used
		if remaining < 0 {
			remaining = 0
		}
		summary.Features[name] = models.FeatureUsage{
			Used:          used,
			FreeLimit:     f.FreeDaily,
			FreeRemaining: remaining,
			Price:         f.Price,
		}
	}

	balance, err := m.ledger.GetBalance(ctx, userId)
	if err != nil {
		return nil, err
	}
	summary.Balance = balance
	return summary, nil
}

func insufficientMessage(f Feature, balance decimal.Decimal) string {
	name := f.DisplayName
	if name == "" {
		name = f.Name
	}

	var b strings.Builder
	if f.FreeDaily > 0 {
		fmt.Fprintf(&b, "Today's free %s uses are used up.\n\nContinuing costs %s USDT, ", name, f.Price.String())
	} else {
		fmt.Fprintf(&b, "%s costs %s USDT, ", name, f.Price.String())
	}
	if balance.IsPositive() {
		fmt.Fprintf(&b, "and your balance is %s USDT.\n\n", balance.StringFixed(4))
	} else {
		b.WriteString("and you have not recharged yet.\n\n")
	}
	b.WriteString("Use /recharge to top up with USDT.")
	return b.String()
}
