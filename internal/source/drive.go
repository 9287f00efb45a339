package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

var (
	confirmRe     = regexp.MustCompile(`confirm=([0-9A-Za-z_\-]+)`)
	confirmInput  = regexp.MustCompile(`name="confirm"\s+value="([^"]+)"`)
	uuidInput     = regexp.MustCompile(`name="uuid"\s+value="([^"]+)"`)
	folderEntryRe = regexp.MustCompile(`(?s)/file/d/([A-Za-z0-9_\-]+)[^"]*".*?flip-entry-title">([^<]*)<`)
)

// openFile requests a Drive file. Large files first answer with an HTML
// interstitial carrying a confirm token; that token is replayed once.
func (r *Resolver) openFile(ctx context.Context, id string) (*http.Response, error) {
	q := url.Values{"export": {"download"}, "id": {id}}
	resp, err := r.get(ctx, r.baseURL+"/uc?"+q.Encode())
	if err != nil {
		return nil, err
	}
	if !isHTML(resp) {
		return resp, nil
	}

	page, err := readPage(resp)
	if err != nil {
		return nil, err
	}
	token := ""
	for _, c := range resp.Cookies() {
		if strings.HasPrefix(c.Name, "download_warning") {
			token = c.Value
		}
	}
	if m := confirmInput.FindSubmatch(page); token == "" && m != nil {
		token = string(m[1])
	}
	if m := confirmRe.FindSubmatch(page); token == "" && m != nil {
		token = string(m[1])
	}
	if token == "" {
		return nil, errors.New("drive returned an HTML page without a download token (file may not be public)")
	}
	q.Set("confirm", token)
	if m := uuidInput.FindSubmatch(page); m != nil {
		q.Set("uuid", string(m[1]))
	}
	resp, err = r.get(ctx, r.baseURL+"/uc?"+q.Encode())
	if err != nil {
		return nil, err
	}
	if isHTML(resp) {
		resp.Body.Close()
		return nil, errors.New("drive still returned HTML after confirmation")
	}
	return resp, nil
}

// openFromFolder lists a public folder and opens the entry named name, or
// the first .csv entry when no exact match exists.
func (r *Resolver) openFromFolder(ctx context.Context, folderID, name string) (*http.Response, error) {
	q := url.Values{"id": {folderID}}
	resp, err := r.get(ctx, r.baseURL+"/embeddedfolderview?"+q.Encode())
	if err != nil {
		return nil, err
	}
	page, err := readPage(resp)
	if err != nil {
		return nil, err
	}
	id, err := pickFolderEntry(page, name)
	if err != nil {
		return nil, err
	}
	return r.openFile(ctx, id)
}

func pickFolderEntry(page []byte, name string) (string, error) {
	firstCSV := ""
	for _, m := range folderEntryRe.FindAllSubmatch(page, -1) {
		id := string(m[1])
		title := strings.TrimSpace(html.UnescapeString(string(m[2])))
		if name != "" && title == name {
			return id, nil
		}
		if firstCSV == "" && strings.HasSuffix(strings.ToLower(title), ".csv") {
			firstCSV = id
		}
	}
	if firstCSV == "" {
		return "", fmt.Errorf("folder listing has no %q and no .csv entry", name)
	}
	return firstCSV, nil
}

func (r *Resolver) get(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "flowlens")
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 8<<10))
		resp.Body.Close()
		return nil, &HTTPError{URL: u, StatusCode: resp.StatusCode}
	}
	return resp, nil
}

func isHTML(resp *http.Response) bool {
	return strings.HasPrefix(strings.ToLower(resp.Header.Get("Content-Type")), "text/html")
}

// readPage reads a bounded HTML body and closes it.
func readPage(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read page: %w", err)
	}
	return bytes.TrimSpace(b), nil
}
