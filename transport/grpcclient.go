package transport

import (
	"context"
	"crypto/x509"
	"sync"
	"time"

	"github.com/couchbaselabs/gomsgbus/cluster"
	"github.com/couchbaselabs/gomsgbus/contrib/grpcheaderauth"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const defaultMaxConnIdleTime = 5 * time.Minute

type GrpcClientOptions struct {
	ClientCertificate *x509.CertPool
	Username          string
	Password          string
	AuthToken         string

	// MaxConnIdleTime bounds how long an unused node channel is kept
	// dialed before being torn down again.
	MaxConnIdleTime time.Duration

	Logger *zap.Logger
}

// GrpcClient delivers messages over per-node gRPC channels.  Channels are
// dialed lazily on first use and pruned once they have sat idle for long
// enough.
type GrpcClient struct {
	dialOpts    []grpc.DialOption
	maxIdleTime time.Duration
	logger      *zap.Logger

	lock     sync.Mutex
	conns    map[string]*grpcNodeConn
	shutdown bool

	ctx       context.Context
	ctxCancel func()
	closeCh   chan struct{}
}

var _ Client = (*GrpcClient)(nil)

type grpcNodeConn struct {
	conn *grpc.ClientConn

	// lastUsed is guarded by the client lock
	lastUsed time.Time
}

func NewGrpcClient(opts *GrpcClientOptions) (*GrpcClient, error) {
	if opts == nil {
		opts = &GrpcClientOptions{}
	}

	var transportDialOpt grpc.DialOption
	var perRpcDialOpt grpc.DialOption

	if opts.ClientCertificate != nil {
		transportDialOpt = grpc.WithTransportCredentials(credentials.NewClientTLSFromCert(opts.ClientCertificate, ""))
		perRpcDialOpt = nil
	} else if opts.Username != "" && opts.Password != "" {
		basicAuthCreds, err := grpcheaderauth.NewGrpcBasicAuth(opts.Username, opts.Password)
		if err != nil {
			return nil, err
		}

		transportDialOpt = grpc.WithTransportCredentials(insecure.NewCredentials())
		perRpcDialOpt = grpc.WithPerRPCCredentials(basicAuthCreds)
	} else if opts.AuthToken != "" {
		bearerAuthCreds, err := grpcheaderauth.NewGrpcBearerAuth(opts.AuthToken)
		if err != nil {
			return nil, err
		}

		transportDialOpt = grpc.WithTransportCredentials(insecure.NewCredentials())
		perRpcDialOpt = grpc.WithPerRPCCredentials(bearerAuthCreds)
	} else {
		transportDialOpt = grpc.WithTransportCredentials(insecure.NewCredentials())
		perRpcDialOpt = nil
	}

	dialOpts := []grpc.DialOption{transportDialOpt}
	if perRpcDialOpt != nil {
		dialOpts = append(dialOpts, perRpcDialOpt)
	}

	maxIdleTime := opts.MaxConnIdleTime
	if maxIdleTime <= 0 {
		maxIdleTime = defaultMaxConnIdleTime
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	c := &GrpcClient{
		dialOpts:    dialOpts,
		maxIdleTime: maxIdleTime,
		logger:      logger,
		conns:       make(map[string]*grpcNodeConn),
		ctx:         ctx,
		ctxCancel:   ctxCancel,
		closeCh:     make(chan struct{}),
	}

	go c.pruneThread()

	return c, nil
}

func (c *GrpcClient) getConn(node *cluster.Node) (*grpc.ClientConn, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.shutdown {
		return nil, ErrTransportShutdown
	}

	entry, ok := c.conns[node.Address]
	if ok {
		entry.lastUsed = time.Now()
		return entry.conn, nil
	}

	conn, err := grpc.Dial(node.Address, c.dialOpts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial node %d at %s", node.ID, node.Address)
	}

	c.conns[node.Address] = &grpcNodeConn{
		conn:     conn,
		lastUsed: time.Now(),
	}

	c.logger.Debug("dialed a new node channel",
		zap.String("address", node.Address))

	return conn, nil
}

func (c *GrpcClient) Send(ctx context.Context, node *cluster.Node, msg *Message) *Completion {
	if node == nil || node.Address == "" {
		return NewResolvedCompletion(ErrInvalidAddress)
	}

	frame, err := EncodeEnvelope(msg)
	if err != nil {
		return NewResolvedCompletion(err)
	}

	conn, err := c.getConn(node)
	if err != nil {
		return NewResolvedCompletion(err)
	}

	completion := NewCompletion()

	go func() {
		err := conn.Invoke(ctx, deliveryDeliverMethod, wrapperspb.Bytes(frame), &emptypb.Empty{})
		if err != nil {
			completion.Resolve(errors.Wrapf(err, "delivery to %s failed", node.Address))
			return
		}

		completion.Resolve(nil)
	}()

	return completion
}

func (c *GrpcClient) pruneThread() {
	// we scan a few times per idle period so that expiry does not lag
	// too far behind the deadline
	interval := c.maxIdleTime / 4
	if interval < time.Second {
		interval = time.Second
	}

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
		case <-c.ctx.Done():
			close(c.closeCh)
			return
		}

		c.pruneIdleConns()
	}
}

func (c *GrpcClient) pruneIdleConns() {
	var prunedConns []*grpc.ClientConn

	c.lock.Lock()
	now := time.Now()
	for address, entry := range c.conns {
		if now.Sub(entry.lastUsed) >= c.maxIdleTime {
			prunedConns = append(prunedConns, entry.conn)
			delete(c.conns, address)

			c.logger.Debug("pruned an idle node channel",
				zap.String("address", address))
		}
	}
	c.lock.Unlock()

	for _, conn := range prunedConns {
		_ = conn.Close()
	}
}

func (c *GrpcClient) Shutdown() error {
	c.lock.Lock()
	if c.shutdown {
		c.lock.Unlock()
		return nil
	}
	c.shutdown = true

	conns := c.conns
	c.conns = nil
	c.lock.Unlock()

	c.ctxCancel()
	<-c.closeCh

	var firstErr error
	for address, entry := range conns {
		err := entry.conn.Close()
		if err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "failed to close the channel to %s", address)
		}
	}

	return firstErr
}
