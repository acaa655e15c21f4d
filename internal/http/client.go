package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/neutron-org/deposit-relayer/internal/relay"
)

const requestTimeout = time.Second * 5

// RelayerClient provides high level methods to work with the relayer api
type RelayerClient struct {
	host   *url.URL
	client http.Client
}

// NewRelayerClient takes a host as a single argument and returns a RelayerClient in case of well formatted host arg
// host format is <scheme>://<host>[:<port>], e.g. http://relayer.host, https://relayer.host, http://relayer.host:9999
func NewRelayerClient(host string) (*RelayerClient, error) {
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("host parsing error: %w", err)
	}

	u.Path = ""
	u.RawQuery = ""
	return &RelayerClient{
		host: u,
		client: http.Client{
			Timeout: requestTimeout,
		},
	}, nil
}

func (c RelayerClient) GetStatus() (*relay.ServiceStatus, error) {
	var status relay.ServiceStatus
	if err := c.do(http.MethodGet, StatusResource, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c RelayerClient) GetMessages(state relay.State) ([]*relay.RelayMessage, error) {
	query := url.Values{}
	query.Set(stateParam, string(state))

	msgs := make([]*relay.RelayMessage, 0)
	if err := c.do(http.MethodGet, MessagesResource, query, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (c RelayerClient) GetMessage(id string) (*relay.RelayMessage, error) {
	var msg relay.RelayMessage
	if err := c.do(http.MethodGet, MessagesResource+"/"+id, nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c RelayerClient) Requeue(id string) (*relay.RelayMessage, error) {
	var msg relay.RelayMessage
	if err := c.do(http.MethodPost, MessagesResource+"/"+id+RequeueSuffix, nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c RelayerClient) do(method, path string, query url.Values, out interface{}) error {
	u := *c.host
	u.Path = path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequest(method, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to build http request: %w", err)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make http request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		var e errorResponse
		body, _ := io.ReadAll(res.Body)
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return fmt.Errorf("got unexpected http response status code %d: %s", res.StatusCode, e.Error)
		}
		return fmt.Errorf("got unexpected http response status code: %d", res.StatusCode)
	}

	decoder := json.NewDecoder(res.Body)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}
	return nil
}
