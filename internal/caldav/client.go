package caldav

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// defaultTimeout bounds every network call so a hung server cannot wedge a
// sync run (and with it the run guard).
const defaultTimeout = 30 * time.Second

const userAgent = "calsync/0.1"

// Credentials authenticate a CalDAV session. Either Password (HTTP Basic) or
// BearerToken must be set.
type Credentials struct {
	Username    string
	Password    string
	BearerToken string
}

// Calendar is one calendar collection on the server.
type Calendar struct {
	Path        string
	DisplayName string
}

// Object is one calendar resource: its locator, version tag, and raw
// iCalendar payload.
type Object struct {
	Href string
	ETag string
	Data string
}

// Client speaks CalDAV to a single server. One instance per sync run.
// It is not safe for concurrent use.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	creds      Credentials
	token      oauth2.TokenSource
	headers    map[string]string
	logger     *slog.Logger

	// homeSet is the calendar home collection path, discovered by Login.
	homeSet string
}

// NewClient creates a client for the given server URL. The URL is normalized
// the way users tend to write it: a missing scheme becomes https, and a
// trailing slash is ensured. extraHeaders are provider-specific headers sent
// with every request (e.g. a client identity a picky server requires).
func NewClient(serverURL string, creds Credentials, extraHeaders map[string]string, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	if !strings.HasPrefix(serverURL, "http://") && !strings.HasPrefix(serverURL, "https://") {
		serverURL = "https://" + serverURL
	}

	if !strings.HasSuffix(serverURL, "/") {
		serverURL += "/"
	}

	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("caldav: invalid server URL %q: %w", serverURL, err)
	}

	c := &Client{
		baseURL:    u,
		httpClient: httpClient,
		creds:      creds,
		headers:    extraHeaders,
		logger:     logger,
	}

	if creds.BearerToken != "" {
		c.token = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: creds.BearerToken})
	}

	return c, nil
}

// do executes one CalDAV request. Network-level failures (DNS, refused
// connections, timeouts) are wrapped as ErrConnection; non-2xx responses are
// returned as a *DavError carrying the classified sentinel.
func (c *Client) do(ctx context.Context, method, ref string, depth int, body string) (*http.Response, error) {
	u, err := c.resolve(ref)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("caldav: building %s request: %w", method, err)
	}

	req.Header.Set("User-Agent", userAgent)

	if depth >= 0 {
		req.Header.Set("Depth", fmt.Sprintf("%d", depth))
	}

	if body != "" && (method == "PROPFIND" || method == "REPORT") {
		req.Header.Set("Content-Type", `application/xml; charset="utf-8"`)
	}

	if c.token != nil {
		tok, err := c.token.Token()
		if err != nil {
			return nil, fmt.Errorf("caldav: obtaining token: %w", err)
		}
		tok.SetAuthHeader(req)
	} else {
		req.SetBasicAuth(c.creds.Username, c.creds.Password)
	}

	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrConnection, method, u, err)
	}

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		c.logger.Debug("request succeeded",
			slog.String("method", method),
			slog.String("url", u),
			slog.Int("status", resp.StatusCode),
		)

		return resp, nil
	}

	errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	resp.Body.Close()

	sentinel := classifyStatus(resp.StatusCode)
	if sentinel == nil {
		sentinel = ErrServerError
	}

	return nil, &DavError{
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(errBody)),
		Err:        sentinel,
	}
}

// resolve turns a server-relative href into an absolute URL on the
// configured host. Absolute hrefs pass through unchanged.
func (c *Client) resolve(ref string) (string, error) {
	if ref == "" {
		return c.baseURL.String(), nil
	}

	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("caldav: invalid href %q: %w", ref, err)
	}

	return c.baseURL.ResolveReference(u).String(), nil
}

const propfindPrincipal = `<?xml version="1.0" encoding="utf-8"?>
<d:propfind xmlns:d="DAV:"><d:prop><d:current-user-principal/></d:prop></d:propfind>`

const propfindHomeSet = `<?xml version="1.0" encoding="utf-8"?>
<d:propfind xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav"><d:prop><c:calendar-home-set/></d:prop></d:propfind>`

const propfindCalendars = `<?xml version="1.0" encoding="utf-8"?>
<d:propfind xmlns:d="DAV:"><d:prop><d:displayname/><d:resourcetype/></d:prop></d:propfind>`

// Login authenticates and discovers the calendar home collection:
// current-user-principal on the base URL, then calendar-home-set on the
// principal. Servers that skip discovery (the base URL already is the home
// set) are tolerated by falling back to the base path.
func (c *Client) Login(ctx context.Context) error {
	ms, err := c.propfind(ctx, "", 0, propfindPrincipal)
	if err != nil {
		return err
	}

	principal := ms.firstHref(func(p *propValues) string {
		if p.CurrentUserPrincipal != nil {
			return p.CurrentUserPrincipal.Href
		}
		return ""
	})

	if principal == "" {
		c.logger.Debug("no current-user-principal, using base URL as home set")
		c.homeSet = c.baseURL.Path
		return nil
	}

	ms, err = c.propfind(ctx, principal, 0, propfindHomeSet)
	if err != nil {
		return err
	}

	home := ms.firstHref(func(p *propValues) string {
		if p.CalendarHomeSet != nil {
			return p.CalendarHomeSet.Href
		}
		return ""
	})

	if home == "" {
		home = principal
	}

	c.homeSet = home
	c.logger.Debug("login complete", "home_set", c.homeSet)

	return nil
}

// FindCalendars enumerates the calendar collections under the home set.
// Returns ErrNoCalendars when the server reports none.
func (c *Client) FindCalendars(ctx context.Context) ([]Calendar, error) {
	ms, err := c.propfind(ctx, c.homeSet, 1, propfindCalendars)
	if err != nil {
		return nil, err
	}

	var cals []Calendar

	for _, resp := range ms.Responses {
		for _, ps := range resp.Propstats {
			if !ps.ok() || ps.Prop.ResourceType == nil || ps.Prop.ResourceType.Calendar == nil {
				continue
			}

			cals = append(cals, Calendar{
				Path:        resp.Href,
				DisplayName: ps.Prop.DisplayName,
			})
		}
	}

	if len(cals) == 0 {
		return nil, ErrNoCalendars
	}

	return cals, nil
}

const calendarQuery = `<?xml version="1.0" encoding="utf-8"?>
<c:calendar-query xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">
  <d:prop><d:getetag/><c:calendar-data/></d:prop>
  <c:filter>
    <c:comp-filter name="VCALENDAR">
      <c:comp-filter name="VEVENT">
        <c:time-range start="%s" end="%s"/>
      </c:comp-filter>
    </c:comp-filter>
  </c:filter>
</c:calendar-query>`

const davTimeFormat = "20060102T150405Z"

// FetchObjects runs a time-ranged calendar-query REPORT against the given
// collection and returns every VEVENT-bearing resource with its version tag.
func (c *Client) FetchObjects(ctx context.Context, cal Calendar, start, end time.Time) ([]Object, error) {
	body := fmt.Sprintf(calendarQuery,
		start.UTC().Format(davTimeFormat), end.UTC().Format(davTimeFormat))

	resp, err := c.do(ctx, "REPORT", cal.Path, 1, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	ms, err := parseMultistatus(resp.Body)
	if err != nil {
		return nil, err
	}

	var objects []Object

	for _, r := range ms.Responses {
		for _, ps := range r.Propstats {
			if !ps.ok() || ps.Prop.CalendarData == "" {
				continue
			}

			objects = append(objects, Object{
				Href: r.Href,
				ETag: ps.Prop.ETag,
				Data: ps.Prop.CalendarData,
			})
		}
	}

	c.logger.Debug("fetched calendar objects",
		"calendar", cal.Path, "count", len(objects))

	return objects, nil
}

// CreateObject PUTs a new resource under the collection with the suggested
// name. If-None-Match: * turns a name collision into ErrConflict
// (some servers answer 409, others 412; both classify as conflict here).
// Returns the created resource's href and version tag; the tag may be empty
// when the server does not return one.
func (c *Client) CreateObject(ctx context.Context, cal Calendar, name, payload string) (href, etag string, err error) {
	base := cal.Path
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}

	href = base + name

	etag, err = c.put(ctx, href, payload, map[string]string{"If-None-Match": "*"})
	if err != nil {
		var dav *DavError
		if errors.As(err, &dav) && errors.Is(dav.Err, ErrPreconditionFailed) {
			return "", "", &DavError{StatusCode: dav.StatusCode, Message: dav.Message, Err: ErrConflict}
		}

		return "", "", err
	}

	return href, etag, nil
}

// UpdateObject overwrites an existing resource, guarded by If-Match with the
// last observed version tag. ErrPreconditionFailed means the server copy has
// changed since: the caller should re-pull rather than overwrite blindly.
func (c *Client) UpdateObject(ctx context.Context, href, etag, payload string) (string, error) {
	headers := map[string]string{}
	if etag != "" {
		headers["If-Match"] = etag
	}

	return c.put(ctx, href, payload, headers)
}

// DeleteObject removes a resource. ErrNotFound callers may treat as
// already-deleted success.
func (c *Client) DeleteObject(ctx context.Context, href string) error {
	u, err := c.resolve(href)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return fmt.Errorf("caldav: building DELETE request: %w", err)
	}

	resp, err := c.doPrepared(req)
	if err != nil {
		return err
	}

	resp.Body.Close()

	return nil
}

func (c *Client) put(ctx context.Context, href, payload string, headers map[string]string) (string, error) {
	u, err := c.resolve(href)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, strings.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("caldav: building PUT request: %w", err)
	}

	req.Header.Set("Content-Type", `text/calendar; charset="utf-8"`)

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.doPrepared(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	return resp.Header.Get("ETag"), nil
}

// doPrepared applies auth and shared headers to an already-built request and
// runs the common status classification.
func (c *Client) doPrepared(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", userAgent)

	if c.token != nil {
		tok, err := c.token.Token()
		if err != nil {
			return nil, fmt.Errorf("caldav: obtaining token: %w", err)
		}
		tok.SetAuthHeader(req)
	} else {
		req.SetBasicAuth(c.creds.Username, c.creds.Password)
	}

	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrConnection, req.Method, req.URL, err)
	}

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return resp, nil
	}

	errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	resp.Body.Close()

	sentinel := classifyStatus(resp.StatusCode)
	if sentinel == nil {
		sentinel = ErrServerError
	}

	return nil, &DavError{
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(errBody)),
		Err:        sentinel,
	}
}

func (c *Client) propfind(ctx context.Context, ref string, depth int, body string) (*multistatus, error) {
	resp, err := c.do(ctx, "PROPFIND", ref, depth, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return parseMultistatus(resp.Body)
}

// --- multistatus parsing ---

type multistatus struct {
	XMLName   xml.Name      `xml:"multistatus"`
	Responses []msgResponse `xml:"response"`
}

type msgResponse struct {
	Href      string     `xml:"href"`
	Propstats []propstat `xml:"propstat"`
}

type propstat struct {
	Status string     `xml:"status"`
	Prop   propValues `xml:"prop"`
}

type propValues struct {
	DisplayName          string        `xml:"displayname"`
	ResourceType         *resourceType `xml:"resourcetype"`
	ETag                 string        `xml:"getetag"`
	CalendarData         string        `xml:"calendar-data"`
	CurrentUserPrincipal *hrefValue    `xml:"current-user-principal"`
	CalendarHomeSet      *hrefValue    `xml:"calendar-home-set"`
}

type resourceType struct {
	Calendar *struct{} `xml:"calendar"`
}

type hrefValue struct {
	Href string `xml:"href"`
}

// ok reports whether the propstat's status line carries a 200 code. The
// reason phrase is optional ("HTTP/1.1 200" is a valid status line), so only
// the code token is compared. An absent status element counts as success.
func (ps propstat) ok() bool {
	fields := strings.Fields(ps.Status)
	if len(fields) == 0 {
		return true
	}

	return len(fields) >= 2 && fields[1] == "200"
}

func (ms *multistatus) firstHref(pick func(*propValues) string) string {
	for _, resp := range ms.Responses {
		for i := range resp.Propstats {
			if !resp.Propstats[i].ok() {
				continue
			}

			if href := pick(&resp.Propstats[i].Prop); href != "" {
				return href
			}
		}
	}

	return ""
}

func parseMultistatus(r io.Reader) (*multistatus, error) {
	var ms multistatus
	if err := xml.NewDecoder(r).Decode(&ms); err != nil {
		return nil, fmt.Errorf("caldav: parsing multistatus response: %w", err)
	}

	return &ms, nil
}
