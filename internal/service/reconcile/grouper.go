package reconcile

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/smmsync/internal/domain"
)

// ProviderResolver находит провайдера заказа по журналу синхронизаций.
type ProviderResolver interface {
	LatestProviderID(ctx context.Context, orderID string) (string, bool, error)
}

// Group — заказы одного провайдера во входном порядке.
type Group struct {
	ProviderID string
	Orders     []domain.Order
}

// Grouping — результат группировки.
type Grouping struct {
	Groups []Group
	// Unresolved — заказы, для которых провайдер не определён.
	Unresolved []domain.Order
}

// Size возвращает число заказов во всех группах.
func (g Grouping) Size() int {
	n := 0
	for _, group := range g.Groups {
		n += len(group.Orders)
	}
	return n
}

// GroupByProvider раскладывает заказы по провайдерам. Провайдер берётся из услуги,
// затем из последней записи журнала. providerFilter применяется после определения провайдера.
func GroupByProvider(ctx context.Context, orders []domain.Order, resolver ProviderResolver, providerFilter string, logger *log.Entry) (Grouping, error) {
	if logger == nil {
		logger = log.New().WithField("component", "order-grouper")
	}

	var (
		result Grouping
		index  = make(map[string]int)
	)
	for _, order := range orders {
		providerID, err := resolveProvider(ctx, order, resolver)
		if err != nil {
			return Grouping{}, err
		}
		if providerID == "" {
			logger.WithField("order_id", order.ID).Warn("order has no resolvable provider, excluded from run")
			result.Unresolved = append(result.Unresolved, order)
			continue
		}
		if providerFilter != "" && providerID != providerFilter {
			continue
		}

		i, ok := index[providerID]
		if !ok {
			i = len(result.Groups)
			index[providerID] = i
			result.Groups = append(result.Groups, Group{ProviderID: providerID})
		}
		result.Groups[i].Orders = append(result.Groups[i].Orders, order)
	}
	return result, nil
}

func resolveProvider(ctx context.Context, order domain.Order, resolver ProviderResolver) (string, error) {
	if order.Service.ProviderID != nil {
		if id := strings.TrimSpace(*order.Service.ProviderID); id != "" {
			return id, nil
		}
	}
	if resolver == nil {
		return "", nil
	}
	id, ok, err := resolver.LatestProviderID(ctx, order.ID)
	if err != nil {
		return "", fmt.Errorf("resolve provider for order %s: %w", order.ID, err)
	}
	if !ok {
		return "", nil
	}
	return strings.TrimSpace(id), nil
}
