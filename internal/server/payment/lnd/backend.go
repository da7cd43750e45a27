// Package lnd issues and watches invoices on an LND node over gRPC.
package lnd

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/ompldr/server/internal/common"
	"github.com/ompldr/server/internal/server/models"
	"github.com/ompldr/server/internal/server/services"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const macaroonHeaderName = "macaroon"

type Options struct {
	Host         string
	CertPath     string
	MacaroonPath string
}

type Backend struct {
	conn     *grpc.ClientConn
	client   lnrpc.LightningClient
	macaroon string
}

// seams for tests
var (
	readFile          = os.ReadFile
	newTLSCredentials = credentials.NewClientTLSFromFile
)

func NewBackend(opts Options) (*Backend, error) {
	mac, err := readFile(opts.MacaroonPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read macaroon: %w", err)
	}
	creds, err := newTLSCredentials(opts.CertPath, "")
	if err != nil {
		return nil, fmt.Errorf("failed to load tls cert: %w", err)
	}

	b := &Backend{macaroon: hex.EncodeToString(mac)}
	conn, err := grpc.NewClient(opts.Host,
		grpc.WithTransportCredentials(creds),
		grpc.WithUnaryInterceptor(b.macaroonUnaryInterceptor),
		grpc.WithStreamInterceptor(b.macaroonStreamInterceptor),
	)
	if err != nil {
		return nil, err
	}
	b.conn = conn
	b.client = lnrpc.NewLightningClient(conn)
	return b, nil
}

// NewBackendWithClient wraps an existing client; the caller owns any connection.
func NewBackendWithClient(client lnrpc.LightningClient) *Backend {
	return &Backend{client: client}
}

func (b *Backend) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Close()
}

func withMacaroon(ctx context.Context, mac string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Set(macaroonHeaderName, mac)
	return metadata.NewOutgoingContext(ctx, md)
}

func (b *Backend) macaroonUnaryInterceptor(
	ctx context.Context,
	method string,
	req, reply interface{},
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	return invoker(withMacaroon(ctx, b.macaroon), method, req, reply, cc, opts...)
}

func (b *Backend) macaroonStreamInterceptor(
	ctx context.Context,
	desc *grpc.StreamDesc,
	cc *grpc.ClientConn,
	method string,
	streamer grpc.Streamer,
	opts ...grpc.CallOption,
) (grpc.ClientStream, error) {
	return streamer(withMacaroon(ctx, b.macaroon), desc, cc, method, opts...)
}

func (b *Backend) CreateInvoice(ctx context.Context, memo string, satoshis int64, expiry time.Duration) (string, string, error) {
	resp, err := b.client.AddInvoice(ctx, &lnrpc.Invoice{
		Memo:   memo,
		Value:  satoshis,
		Expiry: int64(expiry / time.Second),
	})
	if err != nil {
		return "", "", mapError(err)
	}
	return resp.PaymentRequest, hex.EncodeToString(resp.RHash), nil
}

func (b *Backend) SubscribeSettlements(ctx context.Context) (services.SettlementStream, error) {
	stream, err := b.client.SubscribeInvoices(ctx, &lnrpc.InvoiceSubscription{})
	if err != nil {
		return nil, mapError(err)
	}
	return &settlementStream{stream: stream}, nil
}

func (b *Backend) LookupInvoice(ctx context.Context, rhash string) (*models.Settlement, error) {
	raw, err := hex.DecodeString(rhash)
	if err != nil {
		return nil, fmt.Errorf("%w: bad rhash %q", common.ErrorBadRequest, rhash)
	}
	inv, err := b.client.LookupInvoice(ctx, &lnrpc.PaymentHash{RHash: raw})
	if err != nil {
		return nil, mapError(err)
	}
	return toSettlement(inv), nil
}

type settlementStream struct {
	stream lnrpc.Lightning_SubscribeInvoicesClient
}

func (s *settlementStream) Recv() (*models.Settlement, error) {
	inv, err := s.stream.Recv()
	if err != nil {
		return nil, mapError(err)
	}
	return toSettlement(inv), nil
}

func toSettlement(inv *lnrpc.Invoice) *models.Settlement {
	return &models.Settlement{
		Memo:    inv.Memo,
		RHash:   hex.EncodeToString(inv.RHash),
		Settled: inv.Settled || inv.State == lnrpc.Invoice_SETTLED, //nolint:staticcheck
	}
}

func mapError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	if st.Code() == codes.NotFound {
		return fmt.Errorf("%w: %s", common.ErrorNotFound, st.Message())
	}
	return fmt.Errorf("lnd %s: %s", st.Code(), st.Message())
}
