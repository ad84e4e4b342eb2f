package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/lightwheel10/affiliate-finder-mvp-sub005/pkg/billing"
)

const maxReadbackBody = 1 << 20

// fetchSubscription reads a subscription back from the provider by id.
// Used when an event payload omits the period boundaries or plan
// metadata the reconciler needs. Concurrent read-backs for the same id
// collapse into a single request.
func (p *Provider) fetchSubscription(ctx context.Context, subID string) (*subscriptionPayload, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("%w: no API key for read-back", billing.ErrNotConfigured)
	}

	v, err, _ := p.readbacks.Do(subID, func() (interface{}, error) {
		return p.doFetchSubscription(ctx, subID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*subscriptionPayload), nil
}

func (p *Provider) doFetchSubscription(ctx context.Context, subID string) (*subscriptionPayload, error) {
	url := p.apiBaseURL + "/v1/subscriptions/" + subID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", billing.ErrReadbackFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	p.metrics.RecordProviderReadbackDuration(providerName, time.Since(start))
	if err != nil {
		p.metrics.RecordProviderReadback(providerName, "error")
		return nil, fmt.Errorf("%w: %v", billing.ErrReadbackFailed, err)
	}
	defer resp.Body.Close()

	p.metrics.RecordProviderReadback(providerName, strconv.Itoa(resp.StatusCode))
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReadbackBody))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", billing.ErrReadbackFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: subscription %s: status %d", billing.ErrReadbackFailed, subID, resp.StatusCode)
	}

	var sub subscriptionPayload
	if err := json.Unmarshal(body, &sub); err != nil {
		return nil, fmt.Errorf("%w: decoding subscription %s: %v", billing.ErrReadbackFailed, subID, err)
	}
	return &sub, nil
}
