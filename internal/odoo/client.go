package odoo

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kolo/xmlrpc"
	"go.uber.org/zap"

	"github.com/vertec-io/hyperfactory-waitlist/internal/config"
	"github.com/vertec-io/hyperfactory-waitlist/internal/util"
)

// Client wraps Odoo's external XML-RPC API: /xmlrpc/2/common for
// authentication and version checks, /xmlrpc/2/object for model calls via
// execute_kw. Authentication is lazy and the uid is cached for the process
// lifetime; Odoo API keys do not expire server-side.
type Client struct {
	common *xmlrpc.Client
	object *xmlrpc.Client
	cfg    config.OdooConfig
	logger *zap.Logger

	mu  sync.Mutex
	uid int64
}

// NewClient builds the two endpoint clients. No network traffic happens here;
// connectivity is verified by HealthCheck or the first call.
func NewClient(cfg *config.Config, logger *zap.Logger) (*Client, error) {
	oc := cfg.Odoo
	base := strings.TrimRight(oc.URL, "/")

	transport := &http.Transport{
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: oc.CallTimeout,
	}

	common, err := xmlrpc.NewClient(base+"/xmlrpc/2/common", transport)
	if err != nil {
		return nil, fmt.Errorf("failed to create odoo common client: %w", err)
	}

	object, err := xmlrpc.NewClient(base+"/xmlrpc/2/object", transport)
	if err != nil {
		return nil, fmt.Errorf("failed to create odoo object client: %w", err)
	}

	util.Info("Odoo client initialized",
		zap.String("url", base),
		zap.String("database", oc.Database),
	)

	return &Client{
		common: common,
		object: object,
		cfg:    oc,
		logger: logger,
	}, nil
}

// HealthCheck verifies the common endpoint answers a version call.
func (c *Client) HealthCheck(ctx context.Context) error {
	var reply interface{}
	if err := c.call(ctx, c.common, "version", []interface{}{}, &reply); err != nil {
		return fmt.Errorf("odoo version check failed: %w", err)
	}
	return nil
}

// ExecuteKw invokes model.method with positional args and kwargs as the
// authenticated user.
func (c *Client) ExecuteKw(ctx context.Context, model, method string, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	uid, err := c.authenticate(ctx)
	if err != nil {
		return nil, err
	}
	if kwargs == nil {
		kwargs = map[string]interface{}{}
	}

	params := []interface{}{
		c.cfg.Database,
		uid,
		c.cfg.APIKey,
		model,
		method,
		args,
		kwargs,
	}

	start := time.Now()
	var reply interface{}
	err = c.call(ctx, c.object, "execute_kw", params, &reply)
	if err != nil {
		util.Error("Odoo execute_kw failed",
			zap.String("model", model),
			zap.String("method", method),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("odoo %s.%s failed: %w", model, method, err)
	}

	util.Debug("Odoo execute_kw completed",
		zap.String("model", model),
		zap.String("method", method),
		zap.Duration("duration", time.Since(start)),
	)
	return reply, nil
}

// SearchRead runs search_read on model and returns raw records. Decoding
// stays untyped because Odoo substitutes boolean false for every empty
// field, which breaks typed unmarshalling.
func (c *Client) SearchRead(ctx context.Context, model string, domain []interface{}, fields []string, limit int) ([]map[string]interface{}, error) {
	kwargs := map[string]interface{}{"fields": fields}
	if limit > 0 {
		kwargs["limit"] = limit
	}

	reply, err := c.ExecuteKw(ctx, model, "search_read", []interface{}{domain}, kwargs)
	if err != nil {
		return nil, err
	}

	rows, ok := reply.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected search_read reply type %T for model %s", reply, model)
	}

	records := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		record, ok := row.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("unexpected search_read row type %T for model %s", row, model)
		}
		records = append(records, record)
	}
	return records, nil
}

// Create inserts a record and returns its id.
func (c *Client) Create(ctx context.Context, model string, values map[string]interface{}) (int64, error) {
	reply, err := c.ExecuteKw(ctx, model, "create", []interface{}{values}, nil)
	if err != nil {
		return 0, err
	}
	id, ok := asInt64(reply)
	if !ok {
		return 0, fmt.Errorf("unexpected create reply type %T for model %s", reply, model)
	}
	return id, nil
}

// Write updates existing records in place.
func (c *Client) Write(ctx context.Context, model string, ids []int64, values map[string]interface{}) error {
	_, err := c.ExecuteKw(ctx, model, "write", []interface{}{ids, values}, nil)
	return err
}

func (c *Client) authenticate(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.uid != 0 {
		return c.uid, nil
	}

	params := []interface{}{
		c.cfg.Database,
		c.cfg.Username,
		c.cfg.APIKey,
		map[string]interface{}{},
	}

	var reply interface{}
	if err := c.call(ctx, c.common, "authenticate", params, &reply); err != nil {
		return 0, fmt.Errorf("odoo authentication failed: %w", err)
	}

	// Odoo answers boolean false for bad credentials instead of a fault.
	uid, ok := asInt64(reply)
	if !ok || uid == 0 {
		return 0, fmt.Errorf("odoo rejected credentials for user %s", c.cfg.Username)
	}

	c.uid = uid
	util.Info("Authenticated with Odoo", zap.Int64("uid", uid))
	return uid, nil
}

// call bridges the context-free xmlrpc client with context cancellation. A
// cancelled context abandons the reply; the transport's header timeout bounds
// the underlying request.
func (c *Client) call(ctx context.Context, client *xmlrpc.Client, method string, params []interface{}, reply interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- client.Call(method, params, reply)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func asString(v interface{}) (string, bool) {
	s, ok := v.(string)
	return s, ok
}
