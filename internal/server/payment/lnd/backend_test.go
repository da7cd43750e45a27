package lnd

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/ompldr/server/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type fakeLightning struct {
	lnrpc.LightningClient

	added   *lnrpc.Invoice
	addResp *lnrpc.AddInvoiceResponse
	addErr  error

	lookupReq  *lnrpc.PaymentHash
	lookupResp *lnrpc.Invoice
	lookupErr  error

	stream *fakeInvoiceStream
}

func (f *fakeLightning) AddInvoice(ctx context.Context, in *lnrpc.Invoice, _ ...grpc.CallOption) (*lnrpc.AddInvoiceResponse, error) {
	f.added = in
	return f.addResp, f.addErr
}

func (f *fakeLightning) LookupInvoice(ctx context.Context, in *lnrpc.PaymentHash, _ ...grpc.CallOption) (*lnrpc.Invoice, error) {
	f.lookupReq = in
	return f.lookupResp, f.lookupErr
}

func (f *fakeLightning) SubscribeInvoices(ctx context.Context, in *lnrpc.InvoiceSubscription, _ ...grpc.CallOption) (lnrpc.Lightning_SubscribeInvoicesClient, error) {
	return f.stream, nil
}

type fakeInvoiceStream struct {
	grpc.ClientStream
	items []*lnrpc.Invoice
}

func (s *fakeInvoiceStream) Recv() (*lnrpc.Invoice, error) {
	if len(s.items) == 0 {
		return nil, io.EOF
	}
	inv := s.items[0]
	s.items = s.items[1:]
	return inv, nil
}

func TestBackend_CreateInvoice(t *testing.T) {
	f := &fakeLightning{addResp: &lnrpc.AddInvoiceResponse{RHash: []byte{0xab, 0xcd}, PaymentRequest: "lnbc1"}}
	b := NewBackendWithClient(f)

	bolt11, rhash, err := b.CreateInvoice(context.Background(), "tok", 500, 90*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "lnbc1", bolt11)
	assert.Equal(t, "abcd", rhash)
	assert.Equal(t, "tok", f.added.Memo)
	assert.Equal(t, int64(500), f.added.Value)
	assert.Equal(t, int64(5400), f.added.Expiry)
}

func TestBackend_CreateInvoice_Error(t *testing.T) {
	f := &fakeLightning{addErr: status.Error(codes.Unavailable, "down")}
	_, _, err := NewBackendWithClient(f).CreateInvoice(context.Background(), "tok", 1, time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "down")
}

func TestBackend_LookupInvoice(t *testing.T) {
	rhash := []byte{1, 2, 3}
	f := &fakeLightning{lookupResp: &lnrpc.Invoice{Memo: "tok", RHash: rhash, State: lnrpc.Invoice_SETTLED}}
	b := NewBackendWithClient(f)

	s, err := b.LookupInvoice(context.Background(), hex.EncodeToString(rhash))
	require.NoError(t, err)
	assert.Equal(t, rhash, f.lookupReq.RHash)
	assert.Equal(t, "tok", s.Memo)
	assert.Equal(t, "010203", s.RHash)
	assert.True(t, s.Settled)

	_, err = b.LookupInvoice(context.Background(), "zz")
	assert.ErrorIs(t, err, common.ErrorBadRequest)

	f.lookupErr = status.Error(codes.NotFound, "unable to locate invoice")
	_, err = b.LookupInvoice(context.Background(), "00")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestToSettlement(t *testing.T) {
	assert.False(t, toSettlement(&lnrpc.Invoice{State: lnrpc.Invoice_OPEN}).Settled)
	assert.False(t, toSettlement(&lnrpc.Invoice{State: lnrpc.Invoice_CANCELED}).Settled)
	assert.True(t, toSettlement(&lnrpc.Invoice{State: lnrpc.Invoice_SETTLED}).Settled)
	assert.True(t, toSettlement(&lnrpc.Invoice{Settled: true}).Settled)
}

func TestBackend_SubscribeSettlements(t *testing.T) {
	f := &fakeLightning{stream: &fakeInvoiceStream{items: []*lnrpc.Invoice{
		{Memo: "a", RHash: []byte{0xff}, State: lnrpc.Invoice_OPEN},
		{Memo: "a", RHash: []byte{0xff}, State: lnrpc.Invoice_SETTLED},
	}}}

	stream, err := NewBackendWithClient(f).SubscribeSettlements(context.Background())
	require.NoError(t, err)

	s, err := stream.Recv()
	require.NoError(t, err)
	assert.False(t, s.Settled)

	s, err = stream.Recv()
	require.NoError(t, err)
	assert.True(t, s.Settled)
	assert.Equal(t, "ff", s.RHash)

	_, err = stream.Recv()
	assert.ErrorIs(t, err, io.EOF)
}

func TestWithMacaroon(t *testing.T) {
	ctx := metadata.NewOutgoingContext(context.Background(), metadata.Pairs("x-other", "1", macaroonHeaderName, "old"))
	ctx = withMacaroon(ctx, "cafe")

	md, ok := metadata.FromOutgoingContext(ctx)
	require.True(t, ok)
	assert.Equal(t, []string{"cafe"}, md.Get(macaroonHeaderName))
	assert.Equal(t, []string{"1"}, md.Get("x-other"))
}

func TestMacaroonInterceptors(t *testing.T) {
	b := &Backend{macaroon: "beef"}

	var seen []string
	invoker := func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
		md, _ := metadata.FromOutgoingContext(ctx)
		seen = append(seen, md.Get(macaroonHeaderName)...)
		return nil
	}
	require.NoError(t, b.macaroonUnaryInterceptor(context.Background(), "/m", nil, nil, nil, invoker))

	streamer := func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		md, _ := metadata.FromOutgoingContext(ctx)
		seen = append(seen, md.Get(macaroonHeaderName)...)
		return nil, nil
	}
	_, err := b.macaroonStreamInterceptor(context.Background(), &grpc.StreamDesc{}, nil, "/s", streamer)
	require.NoError(t, err)

	assert.Equal(t, []string{"beef", "beef"}, seen)
}

func TestNewBackend_Errors(t *testing.T) {
	origRead, origTLS := readFile, newTLSCredentials
	t.Cleanup(func() { readFile, newTLSCredentials = origRead, origTLS })

	readFile = func(string) ([]byte, error) { return nil, errors.New("no file") }
	_, err := NewBackend(Options{Host: "localhost:10009"})
	assert.ErrorContains(t, err, "macaroon")

	readFile = func(string) ([]byte, error) { return []byte{0x02, 0x01}, nil }
	newTLSCredentials = func(string, string) (credentials.TransportCredentials, error) {
		return nil, errors.New("bad pem")
	}
	_, err = NewBackend(Options{Host: "localhost:10009"})
	assert.ErrorContains(t, err, "tls cert")
}

func TestNewBackend(t *testing.T) {
	origRead, origTLS := readFile, newTLSCredentials
	t.Cleanup(func() { readFile, newTLSCredentials = origRead, origTLS })

	readFile = func(string) ([]byte, error) { return []byte{0x02, 0x01}, nil }
	newTLSCredentials = func(string, string) (credentials.TransportCredentials, error) {
		return credentials.NewTLS(nil), nil
	}

	b, err := NewBackend(Options{Host: "localhost:10009"})
	require.NoError(t, err)
	assert.Equal(t, "0201", b.macaroon)
	assert.NoError(t, b.Close())
}
