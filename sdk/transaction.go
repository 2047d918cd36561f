package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/marwen-abid/offramp-go"
	"github.com/marwen-abid/offramp-go/core/net"
	"github.com/marwen-abid/offramp-go/errors"
)

// FetchTransaction returns the anchor's current record of transaction id.
//
// Transport failures come back as NETWORK_ERROR (no caller-facing kind) so a poller can
// count them as attempts; 401/403 is AUTH_FAILED and other statuses or malformed bodies
// are ANCHOR_PROTOCOL_ERROR.
func (c *Client) FetchTransaction(ctx context.Context, token *offramp.AuthToken, id string) (*offramp.AnchorTransaction, error) {
	if token == nil || token.Token == "" {
		return nil, errors.NewClientError(errors.AUTH_FAILED, "transaction lookup requires an auth token", nil)
	}

	server, err := c.transferServer(ctx, token.HomeDomain)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/transaction?id=%s", server, url.QueryEscape(id))
	resp, err := c.httpClient.Get(ctx, endpoint, net.WithBearer(token.Token))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := statusError(resp, "transaction lookup"); err != nil {
		return nil, err
	}

	var body struct {
		Transaction *offramp.AnchorTransaction `json:"transaction"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.NewClientError(errors.ANCHOR_PROTOCOL_ERROR, "failed to decode transaction response JSON", err)
	}
	if body.Transaction == nil || body.Transaction.Status == "" {
		return nil, errors.NewClientError(errors.ANCHOR_PROTOCOL_ERROR, "transaction response has no status", nil).
			With("session_id", id)
	}
	if body.Transaction.ID != "" && body.Transaction.ID != id {
		return nil, errors.NewClientError(
			errors.ANCHOR_PROTOCOL_ERROR,
			fmt.Sprintf("anchor returned transaction %s for %s", body.Transaction.ID, id),
			nil,
		)
	}

	return body.Transaction, nil
}
