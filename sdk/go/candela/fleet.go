// Copyright (C) The Candela Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package candela

import "context"

// HostReady tells the fleet manager this host is up and accepting
// node placements at the given URL.
func (c *Client) HostReady(ctx context.Context, notice HostReadyNotice) error {
	return c.RequestAndDecodeContext(ctx, nil, "POST", "candela/v1/hosts/ready", notice)
}

// TenantFinished tells the fleet manager a tenant's node has stopped,
// so it can release the placement and route the tenant's next run
// request wherever it likes.
func (c *Client) TenantFinished(ctx context.Context, notice TenantFinishedNotice) error {
	return c.RequestAndDecodeContext(ctx, nil, "POST", "candela/v1/tenants/finished", notice)
}
