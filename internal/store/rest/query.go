package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/luyichen/pikapost/internal/common"
	"github.com/luyichen/pikapost/internal/store"
)

// selectParam renders columns plus embedded resources in PostgREST syntax:
// "id,is_favorite,friend_profile:profiles!friend_id(id,username,avatar)".
func selectParam(q store.Query) string {
	cols := q.Columns
	if len(cols) == 0 {
		cols = []string{"*"}
	}
	parts := make([]string, 0, len(cols)+len(q.Joins))
	parts = append(parts, cols...)
	for _, j := range q.Joins {
		parts = append(parts, fmt.Sprintf("%s:%s!%s(%s)",
			j.As, j.Table, j.LocalColumn, strings.Join(j.Columns, ",")))
	}
	return strings.Join(parts, ",")
}

func filterValue(v any) string {
	switch t := v.(type) {
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(v)
	}
}

// applyFilter adds the filter conditions as query parameters. Any-conditions
// collapse into one or=(...) parameter.
func applyFilter(params url.Values, f store.Filter) {
	for _, c := range f.All {
		switch c.Op {
		case store.OpNotNull:
			params.Add(c.Column, "not.is.null")
		default:
			params.Add(c.Column, "eq."+filterValue(c.Value))
		}
	}
	if len(f.Any) > 0 {
		ors := make([]string, 0, len(f.Any))
		for _, c := range f.Any {
			switch c.Op {
			case store.OpNotNull:
				ors = append(ors, c.Column+".not.is.null")
			default:
				ors = append(ors, c.Column+".eq."+filterValue(c.Value))
			}
		}
		params.Add("or", "("+strings.Join(ors, ",")+")")
	}
}

func (g *Gateway) restURL(collection string, params url.Values) string {
	u := g.baseURL + "/rest/v1/" + collection
	if enc := params.Encode(); enc != "" {
		u += "?" + enc
	}
	return u
}

func (g *Gateway) newRestRequest(ctx context.Context, method, u string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", g.anonKey)
	req.Header.Set("Authorization", "Bearer "+g.accessToken())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// doRead performs a GET with retries: transient network failures and 5xx
// responses are retried with fibonacci backoff, everything else fails fast.
func (g *Gateway) doRead(ctx context.Context, u string) ([]byte, error) {
	var raw []byte
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(200*time.Millisecond))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := g.newRestRequest(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		resp, err := g.http.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		raw, err = io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(err)
		}
		if resp.StatusCode >= 500 {
			return retry.RetryableError(fmt.Errorf("server error (%d)", resp.StatusCode))
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("request failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(raw)))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func (g *Gateway) doWrite(ctx context.Context, method, u string, body []byte, representation bool) ([]byte, error) {
	req, err := g.newRestRequest(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	if representation {
		req.Header.Set("Prefer", "return=representation")
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("request failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}

func decodeRows(raw []byte) ([]store.Row, error) {
	var rows []store.Row
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decoding rows: %w", err)
	}
	return rows, nil
}

func (g *Gateway) Query(ctx context.Context, collection string, q store.Query) ([]store.Row, error) {
	params := url.Values{}
	params.Set("select", selectParam(q))
	applyFilter(params, q.Filter)
	if q.Order != nil {
		dir := "asc"
		if q.Order.Descending {
			dir = "desc"
		}
		params.Set("order", q.Order.Column+"."+dir)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	raw, err := g.doRead(ctx, g.restURL(collection, params))
	if err != nil {
		return nil, fmt.Errorf("%w: query %s: %v", common.ErrRemoteRead, collection, err)
	}
	rows, err := decodeRows(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: query %s: %v", common.ErrRemoteRead, collection, err)
	}
	return rows, nil
}

func (g *Gateway) Insert(ctx context.Context, collection string, fields store.Fields) (store.Row, error) {
	body, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encoding insert: %w", err)
	}

	raw, err := g.doWrite(ctx, http.MethodPost, g.restURL(collection, nil), body, true)
	if err != nil {
		return nil, fmt.Errorf("%w: insert %s: %v", common.ErrRemoteWrite, collection, err)
	}
	rows, err := decodeRows(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: insert %s: %v", common.ErrRemoteWrite, collection, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: insert %s: empty representation", common.ErrRemoteWrite, collection)
	}
	return rows[0], nil
}

func (g *Gateway) Update(ctx context.Context, collection string, f store.Filter, fields store.Fields) error {
	body, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encoding update: %w", err)
	}

	params := url.Values{}
	applyFilter(params, f)
	if _, err := g.doWrite(ctx, http.MethodPatch, g.restURL(collection, params), body, false); err != nil {
		return fmt.Errorf("%w: update %s: %v", common.ErrRemoteWrite, collection, err)
	}
	return nil
}

func (g *Gateway) Delete(ctx context.Context, collection string, f store.Filter) error {
	params := url.Values{}
	applyFilter(params, f)
	if _, err := g.doWrite(ctx, http.MethodDelete, g.restURL(collection, params), nil, false); err != nil {
		return fmt.Errorf("%w: delete %s: %v", common.ErrRemoteWrite, collection, err)
	}
	return nil
}

func (g *Gateway) UploadBlob(ctx context.Context, bucket, path string, data []byte) error {
	u := fmt.Sprintf("%s/storage/v1/object/%s/%s", g.baseURL, bucket, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("apikey", g.anonKey)
	req.Header.Set("Authorization", "Bearer "+g.accessToken())
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := g.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: upload %s/%s: %v", common.ErrRemoteWrite, bucket, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: upload %s/%s (%d): %s",
			common.ErrRemoteWrite, bucket, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return nil
}

func (g *Gateway) PublicURL(bucket, path string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", g.baseURL, bucket, path)
}
