package daemon

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/couchbaselabs/gomsgbus/client"
	"github.com/couchbaselabs/gomsgbus/cluster"
	"github.com/couchbaselabs/gomsgbus/contrib/buildversion"
	"github.com/couchbaselabs/gomsgbus/loadbalancer"
	"github.com/couchbaselabs/gomsgbus/pkg/metrics"
	"github.com/couchbaselabs/gomsgbus/pkg/ratelimiting"
	"github.com/couchbaselabs/gomsgbus/pkg/webapi"
	"github.com/couchbaselabs/gomsgbus/transport"
	"github.com/couchbaselabs/gomsgbus/utils/channelmerge"
	"github.com/couchbaselabs/gomsgbus/utils/latestonlychannel"
	"github.com/couchbaselabs/gomsgbus/utils/netutils"
	"github.com/google/uuid"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const pingKind = "msgbus.ping"

const defaultEtcdKeyPrefix = "/msgbus/nodes"

type Config struct {
	Logger *zap.Logger

	// NodeID identifies this node in the cluster.  Zero means a random
	// identity is generated at startup.
	NodeID      uint64
	ServerGroup string
	Meta        map[string]string

	EtcdEndpoints []string
	EtcdUsername  string
	EtcdPassword  string
	EtcdKeyPrefix string

	// Provider overrides the etcd settings when set, letting tests and
	// dev tooling share an in-process member list between nodes.
	Provider cluster.Provider

	BindAddress      string
	BindDeliveryPort int
	AdvertiseAddress string
	AdvertisePort    int

	ServerTlsConfig *tls.Config
	ClientRootCAs   *x509.CertPool
	AuthToken       string

	// DisableBalancedTraffic advertises this node as not accepting
	// balanced sends, which drains it from peers' rotation while still
	// allowing targeted and broadcast traffic.
	DisableBalancedTraffic bool

	// RateLimit caps the deliveries this node accepts per second.  Zero
	// means unlimited.
	RateLimit int

	// PingInterval enables a periodic balanced ping when non-zero.
	PingInterval time.Duration

	// Handler receives messages delivered to this node.  When nil, a
	// logging acknowledger is used.
	Handler transport.Handler

	// Daemon keeps retrying the initial cluster join rather than failing
	// out when etcd is unreachable at startup.
	Daemon bool

	Debug bool

	StartupCallback func(*StartupInfo)
}

type StartupInfo struct {
	NodeID        cluster.NodeID
	AdvertiseAddr string
	AdvertisePort int
}

type topologyNode struct {
	ID          uint64 `json:"id"`
	Address     string `json:"address"`
	ServerGroup string `json:"serverGroup,omitempty"`
	Capable     bool   `json:"capable"`
}

type topologyInfo struct {
	Connected bool            `json:"connected"`
	Revision  []uint64        `json:"revision"`
	Nodes     []*topologyNode `json:"nodes"`
}

// Daemon assembles one message bus node: cluster membership, the routing
// factory for outgoing sends, and the grpc delivery server for incoming
// ones.
type Daemon struct {
	logger *zap.Logger
	config *Config

	nodeID        cluster.NodeID
	advertiseAddr string
	advertisePort int

	etcdClient  *clientv3.Client
	clusterMgr  *cluster.Manager
	grpcClient  *transport.GrpcClient
	factory     *client.Factory
	listeners   *Listeners
	system      *System
	rateLimiter *ratelimiting.GlobalRateLimiter

	lock       sync.Mutex
	node       *cluster.Node
	membership *cluster.NodeMembership

	topoState atomic.Pointer[topologyInfo]

	shutdownOnce sync.Once
}

func NewDaemon(config *Config) (*Daemon, error) {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if config.BindDeliveryPort < 0 {
		return nil, errors.New("a delivery port must be specified")
	}

	nodeID := cluster.NodeID(config.NodeID)
	if nodeID == 0 {
		id := uuid.New()
		nodeID = cluster.NodeID(binary.BigEndian.Uint64(id[0:8]))
		logger.Info("generated a random node id", zap.Uint64("nodeId", uint64(nodeID)))
	}

	var err error
	var etcdClient *clientv3.Client
	provider := config.Provider
	if provider != nil {
		// the caller wired its own membership provider
	} else if len(config.EtcdEndpoints) > 0 {
		etcdClient, err = clientv3.New(clientv3.Config{
			Endpoints:   config.EtcdEndpoints,
			Username:    config.EtcdUsername,
			Password:    config.EtcdPassword,
			DialTimeout: 5 * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to etcd: %w", err)
		}

		keyPrefix := config.EtcdKeyPrefix
		if keyPrefix == "" {
			keyPrefix = defaultEtcdKeyPrefix
		}

		provider, err = cluster.NewEtcdProvider(cluster.EtcdProviderOptions{
			EtcdClient: etcdClient,
			KeyPrefix:  keyPrefix,
			Logger:     logger.Named("etcd-provider"),
		})
		if err != nil {
			_ = etcdClient.Close()
			return nil, err
		}
	} else {
		logger.Warn("no etcd endpoints were configured, using an in-process member list")
		provider = cluster.NewInProcProvider()
	}

	listeners, err := NewListeners(&ListenersOptions{
		Address:      config.BindAddress,
		DeliveryPort: config.BindDeliveryPort,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to bind the delivery listener: %w", err)
	}

	advertiseAddr := config.AdvertiseAddress
	if advertiseAddr == "" {
		advertiseAddr, err = netutils.GetAdvertiseAddress(config.BindAddress)
		if err != nil {
			_ = listeners.Close()
			return nil, fmt.Errorf("failed to resolve an advertise address: %w", err)
		}
	}

	advertisePort := config.AdvertisePort
	if advertisePort == 0 {
		advertisePort = listeners.BoundDeliveryPort()
	}

	clusterMgr, err := cluster.NewManager(&cluster.ManagerOptions{
		Provider: provider,
		Logger:   logger.Named("cluster"),
	})
	if err != nil {
		_ = listeners.Close()
		return nil, err
	}

	grpcClient, err := transport.NewGrpcClient(&transport.GrpcClientOptions{
		ClientCertificate: config.ClientRootCAs,
		AuthToken:         config.AuthToken,
		Logger:            logger.Named("transport"),
	})
	if err != nil {
		_ = listeners.Close()
		return nil, err
	}

	factory, err := client.NewFactory(&client.FactoryOptions{
		ClusterView:         clusterMgr,
		LoadBalancerFactory: loadbalancer.NewRoundRobinFactory(),
		Transport:           grpcClient,
		Logger:              logger.Named("routing"),
	})
	if err != nil {
		_ = listeners.Close()
		return nil, err
	}

	rateLimiter := ratelimiting.NewGlobalRateLimiter(uint64(config.RateLimit), time.Second)

	d := &Daemon{
		logger:        logger,
		config:        config,
		nodeID:        nodeID,
		advertiseAddr: advertiseAddr,
		advertisePort: advertisePort,
		etcdClient:    etcdClient,
		clusterMgr:    clusterMgr,
		grpcClient:    grpcClient,
		factory:       factory,
		listeners:     listeners,
		rateLimiter:   rateLimiter,
	}

	handler := config.Handler
	if handler == nil {
		handler = transport.HandlerFunc(d.handleMessage)
	}

	system, err := NewSystem(&SystemOptions{
		Logger:      logger.Named("system"),
		Handler:     handler,
		Metrics:     metrics.GetBusMetrics(),
		RateLimiter: rateLimiter,
		TlsConfig:   config.ServerTlsConfig,
		AuthToken:   config.AuthToken,
		Debug:       config.Debug,
	})
	if err != nil {
		_ = listeners.Close()
		return nil, err
	}
	d.system = system

	return d, nil
}

// handleMessage is the default delivery handler, acknowledging everything.
func (d *Daemon) handleMessage(ctx context.Context, msg *transport.Message) error {
	if msg.Kind == pingKind {
		d.logger.Debug("received a ping", zap.Stringer("messageId", msg.ID))
		return nil
	}

	d.logger.Info("received a message with no handler configured",
		zap.String("kind", msg.Kind),
		zap.Stringer("messageId", msg.ID),
		zap.Int("bodyLen", len(msg.Body)))
	return nil
}

func (d *Daemon) buildTopologyInfo(nodes *cluster.NodeSet, connected bool) *topologyInfo {
	info := &topologyInfo{
		Connected: connected,
	}

	if nodes != nil {
		info.Revision = nodes.Revision
		for _, node := range nodes.Nodes {
			info.Nodes = append(info.Nodes, &topologyNode{
				ID:          uint64(node.ID),
				Address:     node.Address,
				ServerGroup: node.ServerGroup,
				Capable:     node.Capable,
			})
		}
	}

	return info
}

// startTopologyThread feeds membership and connectivity updates through a
// latest-only merge so slow logging can never back-pressure the view's
// event delivery.
func (d *Daemon) startTopologyThread() {
	membershipCh := make(chan *cluster.NodeSet)
	connectedCh := make(chan bool)

	d.clusterMgr.AddListener(func(evt cluster.Event) {
		switch evt := evt.(type) {
		case *cluster.ConnectedEvent:
			connectedCh <- true
			membershipCh <- evt.Nodes
		case *cluster.NodesChangedEvent:
			membershipCh <- evt.Nodes
		case *cluster.DisconnectedEvent:
			connectedCh <- false
		case *cluster.ShutdownEvent:
			close(connectedCh)
			close(membershipCh)
		}
	})

	topoCh := channelmerge.Merge(
		latestonlychannel.Wrap(membershipCh),
		latestonlychannel.Wrap(connectedCh))

	go func() {
		for topo := range topoCh {
			info := d.buildTopologyInfo(topo.A, topo.B)
			d.topoState.Store(info)

			d.logger.Info("cluster topology updated",
				zap.Bool("connected", info.Connected),
				zap.Int("numNodes", len(info.Nodes)),
				zap.Uint64s("revision", info.Revision))
		}
	}()
}

func (d *Daemon) pingThread(ctx context.Context) {
	c, err := d.factory.NewClient()
	if err != nil {
		d.logger.Warn("failed to create a ping client", zap.Error(err))
		return
	}

	ticker := time.NewTicker(d.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}

		payload := []byte(time.Now().UTC().Format(time.RFC3339Nano))
		completion, err := c.Send(ctx, transport.NewMessage(pingKind, payload))
		if err != nil {
			if errors.Is(err, client.ErrClusterShutdown) {
				return
			}

			d.logger.Debug("failed to dispatch a ping", zap.Error(err))
			continue
		}

		go func() {
			start := time.Now()
			err := completion.Wait(ctx)
			if err != nil {
				d.logger.Debug("a ping delivery failed", zap.Error(err))
				return
			}

			d.logger.Debug("a ping was acknowledged", zap.Duration("elapsed", time.Since(start)))
		}()
	}
}

// joinCluster registers the local node, retrying with backoff in daemon
// mode.  etcd kv operations block rather than fail while the endpoints
// are unreachable, so each attempt gets its own deadline.
func (d *Daemon) joinCluster(ctx context.Context, node *cluster.Node) (*cluster.NodeMembership, error) {
	attemptJoin := func() (*cluster.NodeMembership, error) {
		joinCtx, joinCancel := context.WithTimeout(ctx, 10*time.Second)
		defer joinCancel()
		return d.clusterMgr.Join(joinCtx, node)
	}

	membership, err := attemptJoin()
	if err == nil || !d.config.Daemon {
		return membership, err
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0

	for {
		d.logger.Warn("failed to join the cluster, retrying", zap.Error(err))

		select {
		case <-time.After(b.NextBackOff()):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		membership, err = attemptJoin()
		if err == nil {
			return membership, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
}

// Run joins the cluster and serves deliveries until the daemon is shut
// down or ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	meta := make(map[string]string, len(d.config.Meta)+1)
	for k, v := range d.config.Meta {
		meta[k] = v
	}
	meta["version"] = buildversion.GetVersion("github.com/couchbaselabs/gomsgbus")

	node := &cluster.Node{
		ID:          d.nodeID,
		Address:     fmt.Sprintf("%s:%d", d.advertiseAddr, d.advertisePort),
		ServerGroup: d.config.ServerGroup,
		Capable:     !d.config.DisableBalancedTraffic,
		Meta:        meta,
	}

	membership, err := d.joinCluster(ctx, node)
	if err != nil {
		return fmt.Errorf("failed to join the cluster: %w", err)
	}

	d.lock.Lock()
	d.node = node
	d.membership = membership
	d.lock.Unlock()

	d.startTopologyThread()

	err = d.factory.Start(ctx)
	if err != nil {
		leaveCtx, leaveCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = membership.Leave(leaveCtx)
		leaveCancel()
		return fmt.Errorf("failed to start the routing factory: %w", err)
	}

	webapi.SetTopologyProvider(func() interface{} {
		return d.topoState.Load()
	})

	if d.config.PingInterval > 0 {
		go d.pingThread(ctx)
	}

	if cb := d.config.StartupCallback; cb != nil {
		cb(&StartupInfo{
			NodeID:        d.nodeID,
			AdvertiseAddr: d.advertiseAddr,
			AdvertisePort: d.advertisePort,
		})
	}

	d.logger.Info("the message bus node is running",
		zap.Uint64("nodeId", uint64(d.nodeID)),
		zap.String("advertiseAddr", d.advertiseAddr),
		zap.Int("advertisePort", d.advertisePort))

	return d.system.Serve(ctx, d.listeners)
}

// NewClient hands out a routing client backed by this daemon's factory,
// for embedders that run the daemon in-process.
func (d *Daemon) NewClient() (*client.Client, error) {
	return d.factory.NewClient()
}

type ReconfigureOptions struct {
	DisableBalancedTraffic bool
	RateLimit              int
}

// Reconfigure applies the settings that can change without a restart.
func (d *Daemon) Reconfigure(opts *ReconfigureOptions) error {
	d.rateLimiter.ResetAndUpdateRateLimit(uint64(opts.RateLimit), time.Second)

	d.lock.Lock()
	membership := d.membership
	node := d.node
	d.lock.Unlock()

	if membership == nil {
		return errors.New("the daemon has not joined the cluster yet")
	}

	newNode := *node
	newNode.Capable = !opts.DisableBalancedTraffic
	if newNode.Capable == node.Capable {
		return nil
	}

	updateCtx, updateCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer updateCancel()

	err := membership.UpdateNode(updateCtx, &newNode)
	if err != nil {
		return err
	}

	d.lock.Lock()
	d.node = &newNode
	d.lock.Unlock()

	d.logger.Info("updated the advertised node registration",
		zap.Bool("capable", newNode.Capable))

	return nil
}

// Shutdown gracefully stops the daemon: it leaves the cluster, tears the
// routing layer down, and drains in-flight deliveries.  It is safe to call
// more than once.
func (d *Daemon) Shutdown() {
	d.shutdownOnce.Do(func() {
		d.logger.Info("beginning graceful shutdown")

		d.lock.Lock()
		membership := d.membership
		d.lock.Unlock()

		if membership != nil {
			leaveCtx, leaveCancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := membership.Leave(leaveCtx)
			leaveCancel()
			if err != nil {
				d.logger.Warn("failed to cleanly leave the cluster", zap.Error(err))
			}
		}

		err := d.factory.Shutdown()
		if err != nil {
			d.logger.Warn("failed to cleanly shut down the routing factory", zap.Error(err))
		}

		d.system.Shutdown()

		if d.etcdClient != nil {
			_ = d.etcdClient.Close()
		}
	})
}
