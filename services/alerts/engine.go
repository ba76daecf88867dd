package alerts

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"tickerdeck/models"
	"tickerdeck/services/levels"
	"tickerdeck/services/marketdata"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Broadcaster pushes fired alerts to connected clients.
type Broadcaster interface {
	BroadcastMessage(msgType string, data interface{})
}

// Engine evaluates armed alerts against live quotes and key levels.
type Engine struct {
	db          *gorm.DB
	market      *marketdata.Service
	levels      *levels.Service
	broadcaster Broadcaster
}

// NewEngine creates an alert engine. levels and broadcaster may be nil;
// without a levels service, level_cross alerts never fire.
func NewEngine(db *gorm.DB, market *marketdata.Service, lvl *levels.Service, broadcaster Broadcaster) *Engine {
	return &Engine{
		db:          db,
		market:      market,
		levels:      lvl,
		broadcaster: broadcaster,
	}
}

// Evaluate decides whether an alert fires against a quote and level
// set. Level crosses are edge-triggered: the previous observation is
// the alert's LastPrice when recorded, the session previous close
// otherwise.
func Evaluate(alert *models.Alert, quote marketdata.Quote, set levels.LevelSet) (bool, string) {
	switch alert.Kind {
	case models.AlertKindPriceAbove:
		threshold := alert.Threshold.InexactFloat64()
		if quote.Price >= threshold {
			return true, fmt.Sprintf("%s price %.2f reached %.2f", alert.Symbol, quote.Price, threshold)
		}
	case models.AlertKindPriceBelow:
		threshold := alert.Threshold.InexactFloat64()
		if quote.Price <= threshold {
			return true, fmt.Sprintf("%s price %.2f fell to %.2f", alert.Symbol, quote.Price, threshold)
		}
	case models.AlertKindPctChange:
		threshold := alert.Threshold.InexactFloat64()
		if math.Abs(quote.ChangePct) >= threshold {
			return true, fmt.Sprintf("%s moved %.2f%% (threshold %.2f%%)", alert.Symbol, quote.ChangePct, threshold)
		}
	case models.AlertKindLevelCross:
		value := set.Value(alert.Level)
		if value == nil {
			return false, ""
		}
		level := *value
		prev := quote.PrevClose
		if !alert.LastPrice.IsZero() {
			prev = alert.LastPrice.InexactFloat64()
		}
		switch alert.Direction {
		case models.CrossAbove:
			if prev < level && quote.Price >= level {
				return true, fmt.Sprintf("%s crossed above %s %.2f (price %.2f)", alert.Symbol, alert.Level, level, quote.Price)
			}
		case models.CrossBelow:
			if prev > level && quote.Price <= level {
				return true, fmt.Sprintf("%s crossed below %s %.2f (price %.2f)", alert.Symbol, alert.Level, level, quote.Price)
			}
		}
	}
	return false, ""
}

// Sweep evaluates every active untriggered alert, one quote fetch per
// symbol. Fired alerts are marked triggered and broadcast; still-armed
// level_cross alerts get their LastPrice refreshed so the next sweep
// sees the cross, not the absolute position. Returns the fired count.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	var armed []models.Alert
	if err := e.db.Where("is_active = ? AND is_triggered = ?", true, false).Find(&armed).Error; err != nil {
		return 0, fmt.Errorf("failed to load alerts: %w", err)
	}
	if len(armed) == 0 {
		return 0, nil
	}

	bySymbol := make(map[string][]*models.Alert)
	for i := range armed {
		bySymbol[armed[i].Symbol] = append(bySymbol[armed[i].Symbol], &armed[i])
	}

	fired := 0
	for symbol, group := range bySymbol {
		quote, err := e.market.FetchQuote(ctx, symbol)
		if err != nil {
			log.Printf("Warning: alert sweep quote failed for %s: %v", symbol, err)
			continue
		}

		var set levels.LevelSet
		if e.levels != nil && groupHasLevelCross(group) {
			set, err = e.levels.LevelsFor(ctx, symbol)
			if err != nil {
				log.Printf("Warning: alert sweep levels failed for %s: %v", symbol, err)
				set = levels.LevelSet{}
			}
		}

		price := decimal.NewFromFloat(quote.Price)
		for _, alert := range group {
			ok, reason := Evaluate(alert, quote, set)
			if ok {
				now := time.Now()
				updates := map[string]interface{}{
					"is_triggered": true,
					"triggered_at": now,
					"last_price":   price,
				}
				if err := e.db.Model(alert).Updates(updates).Error; err != nil {
					log.Printf("Warning: failed to mark alert %d triggered: %v", alert.ID, err)
					continue
				}
				fired++
				log.Printf("Alert %d fired: %s", alert.ID, reason)
				if e.broadcaster != nil {
					e.broadcaster.BroadcastMessage("alert", map[string]interface{}{
						"alert":  alert,
						"reason": reason,
						"price":  quote.Price,
					})
				}
				continue
			}

			// Keep the cross edge moving forward.
			if alert.Kind == models.AlertKindLevelCross {
				if err := e.db.Model(alert).UpdateColumn("last_price", price).Error; err != nil {
					log.Printf("Warning: failed to update alert %d last price: %v", alert.ID, err)
				}
			}
		}
	}

	return fired, nil
}

func groupHasLevelCross(group []*models.Alert) bool {
	for _, alert := range group {
		if alert.Kind == models.AlertKindLevelCross {
			return true
		}
	}
	return false
}
