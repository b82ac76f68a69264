package gateway

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
)

// Client calls a view gateway.
type Client struct {
	httpClient connect.HTTPClient
	baseURL    string
	opts       []connect.ClientOption
}

// NewClient returns a client for the gateway at baseURL. opts apply to every
// call, after the JSON codec.
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		opts:       append([]connect.ClientOption{WithJSON()}, opts...),
	}
}

// Watch opens a view of groupID. The first event carries the view ID to
// pass to the other calls. Close the stream to close the view.
func (c *Client) Watch(ctx context.Context, groupID string) (*connect.ServerStreamForClient[ViewEvent], error) {
	cli := connect.NewClient[WatchRequest, ViewEvent](c.httpClient, c.baseURL+WatchProcedure, c.opts...)
	return cli.CallServerStream(ctx, connect.NewRequest(&WatchRequest{GroupID: groupID}))
}

func (c *Client) ToggleAssignment(ctx context.Context, req *ToggleAssignmentRequest) error {
	return call(ctx, c, ToggleAssignmentProcedure, req)
}

func (c *Client) UpdateEntry(ctx context.Context, req *UpdateEntryRequest) error {
	return call(ctx, c, UpdateEntryProcedure, req)
}

func (c *Client) AddEntry(ctx context.Context, req *AddEntryRequest) error {
	return call(ctx, c, AddEntryProcedure, req)
}

func (c *Client) DeleteEntry(ctx context.Context, req *DeleteEntryRequest) error {
	return call(ctx, c, DeleteEntryProcedure, req)
}

func (c *Client) SetProcessed(ctx context.Context, req *SetProcessedRequest) error {
	return call(ctx, c, SetProcessedProcedure, req)
}

func (c *Client) SetPaidBy(ctx context.Context, req *SetPaidByRequest) error {
	return call(ctx, c, SetPaidByProcedure, req)
}

func (c *Client) SetReceiptPeople(ctx context.Context, req *SetReceiptPeopleRequest) error {
	return call(ctx, c, SetReceiptPeopleProcedure, req)
}

func (c *Client) SetGroupPeople(ctx context.Context, req *SetGroupPeopleRequest) error {
	return call(ctx, c, SetGroupPeopleProcedure, req)
}

func (c *Client) Refresh(ctx context.Context, req *RefreshRequest) error {
	return call(ctx, c, RefreshProcedure, req)
}

func (c *Client) SetVisible(ctx context.Context, req *SetVisibleRequest) error {
	return call(ctx, c, SetVisibleProcedure, req)
}

func call[Req any](ctx context.Context, c *Client, procedure string, req *Req) error {
	cli := connect.NewClient[Req, Ack](c.httpClient, c.baseURL+procedure, c.opts...)
	_, err := cli.CallUnary(ctx, connect.NewRequest(req))
	return err
}
