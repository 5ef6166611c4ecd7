package routeros

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/go-routeros/routeros/v3"
	"github.com/go-routeros/routeros/v3/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	calls   [][]string
	replies map[string]*routeros.Reply
	errs    map[string]error
	closed  bool
}

func (f *fakeConn) RunArgs(sentence []string) (*routeros.Reply, error) {
	f.calls = append(f.calls, sentence)
	if err := f.errs[sentence[0]]; err != nil {
		return nil, err
	}
	if r := f.replies[sentence[0]]; r != nil {
		return r, nil
	}
	return &routeros.Reply{}, nil
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func newTestClient(fc *fakeConn) (*Client, *int) {
	dials := 0
	c := NewClient(Config{Address: "10.0.0.1", Username: "api", Password: "secret"})
	c.dial = func(Config) (conn, error) {
		dials++
		return fc, nil
	}
	return c, &dials
}

func replyWithIDs(ids ...string) *routeros.Reply {
	r := &routeros.Reply{}
	for _, id := range ids {
		r.Re = append(r.Re, &proto.Sentence{Word: "!re", Map: map[string]string{".id": id}})
	}
	return r
}

func TestNewClientAddsDefaultPort(t *testing.T) {
	assert.Equal(t, "10.0.0.1:8728", NewClient(Config{Address: "10.0.0.1"}).cfg.Address)
	assert.Equal(t, "10.0.0.1:8729", NewClient(Config{Address: "10.0.0.1:8729"}).cfg.Address)
}

func TestCreateLoginSendsProfile(t *testing.T) {
	fc := &fakeConn{}
	c, dials := newTestClient(fc)

	require.NoError(t, c.CreateLogin(context.Background(), "ATH-7K2Q", "p4ss", "2hour"))
	require.NoError(t, c.CreateLogin(context.Background(), "ATH-9XYZ", "p4ss", "monthly"))

	assert.Equal(t, 1, *dials, "session must be reused")
	require.Len(t, fc.calls, 2)
	assert.Equal(t, []string{"/ip/hotspot/user/add", "=name=ATH-7K2Q", "=password=p4ss", "=profile=2hour", "=comment=voucher"}, fc.calls[0])
}

func TestCreateLoginExistingUserIsSuccess(t *testing.T) {
	fc := &fakeConn{errs: map[string]error{
		"/ip/hotspot/user/add": &routeros.DeviceError{Sentence: &proto.Sentence{
			Word: "!trap",
			Map:  map[string]string{"message": "failure: already have user with this name for this server"},
		}},
	}}
	c, _ := newTestClient(fc)

	assert.NoError(t, c.CreateLogin(context.Background(), "ATH-1", "x", "24hour"))
	assert.False(t, fc.closed, "device errors keep the session")
}

func TestRemoveLoginRemovesEveryMatch(t *testing.T) {
	fc := &fakeConn{replies: map[string]*routeros.Reply{
		"/ip/hotspot/user/print": replyWithIDs("*1A", "*1B"),
	}}
	c, _ := newTestClient(fc)

	require.NoError(t, c.RemoveLogin(context.Background(), "ATH-1"))
	require.Len(t, fc.calls, 3)
	assert.Equal(t, []string{"/ip/hotspot/user/print", "?name=ATH-1", "=.proplist=.id"}, fc.calls[0])
	assert.Equal(t, []string{"/ip/hotspot/user/remove", "=.id=*1A"}, fc.calls[1])
	assert.Equal(t, []string{"/ip/hotspot/user/remove", "=.id=*1B"}, fc.calls[2])
}

func TestDisconnectSessionWithoutActiveSession(t *testing.T) {
	fc := &fakeConn{}
	c, _ := newTestClient(fc)

	require.NoError(t, c.DisconnectSession(context.Background(), "ATH-1"))
	require.Len(t, fc.calls, 1)
	assert.Equal(t, "/ip/hotspot/active/print", fc.calls[0][0])
	assert.Equal(t, "?user=ATH-1", fc.calls[0][1])
}

func TestTransportErrorDropsSession(t *testing.T) {
	fc := &fakeConn{errs: map[string]error{"/ip/hotspot/user/add": errors.New("broken pipe")}}
	c, dials := newTestClient(fc)

	err := c.CreateLogin(context.Background(), "ATH-1", "x", "7day")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "broken pipe"))
	assert.True(t, fc.closed)

	delete(fc.errs, "/ip/hotspot/user/add")
	require.NoError(t, c.CreateLogin(context.Background(), "ATH-1", "x", "7day"))
	assert.Equal(t, 2, *dials)
}

func TestUnconfiguredRouter(t *testing.T) {
	err := NewClient(Config{}).CreateLogin(context.Background(), "a", "b", "c")
	assert.ErrorIs(t, err, ErrNotConfigured)
}
