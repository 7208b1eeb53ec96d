// Package grpc serves relayed event records as a server-streaming gRPC feed.
//
// The service is qubes.events.v1.EventFeed with one method:
//
//	rpc Watch(google.protobuf.StringValue) returns (stream google.protobuf.Struct);
//
// The request carries the topic, and every record published to that topic
// after the call started is streamed as a Struct. The messages are well-known
// protobuf types, so no generated code is needed on either side.
package grpc

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ttasket/qubes-events/payload"
	"github.com/ttasket/qubes-events/transport"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	serviceName = "qubes.events.v1.EventFeed"
	watchMethod = "/" + serviceName + "/Watch"
)

// DefaultBufferSize is the number of records buffered per watcher.
var DefaultBufferSize = 64

// FeedServer is the server API of the EventFeed service.
type FeedServer interface {
	Watch(req *wrapperspb.StringValue, stream grpc.ServerStream) error
}

// ServiceDesc is the grpc.ServiceDesc of the EventFeed service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*FeedServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "qubes/events/v1/feed.proto",
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	req := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(FeedServer).Watch(req, stream)
}

// Server is a transport.Publisher that fans records out to the watchers of
// their topic. Watchers that do not keep up lose records.
type Server struct {
	status     int32
	bufferSize int
	logger     *slog.Logger

	mu       sync.RWMutex
	watchers map[string]map[*watcher]struct{}
	done     chan struct{}

	dropped atomic.Int64
}

type watcher struct {
	ch chan *transport.Record
}

// Option configures the Server
type Option func(*Server)

// WithBufferSize sets the number of records buffered per watcher
func WithBufferSize(size int) Option {
	return func(s *Server) {
		if size > 0 {
			s.bufferSize = size
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a feed server. Register it on a grpc.Server and use it
// as the relay publisher.
//
//	feed := grpctransport.NewServer()
//	feed.Register(grpcServer)
//	relay, _ := events.NewRelay(feed)
func NewServer(opts ...Option) *Server {
	s := &Server{
		status:     1,
		bufferSize: DefaultBufferSize,
		logger:     transport.Logger("transport>grpc"),
		watchers:   make(map[string]map[*watcher]struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register registers the EventFeed service on r.
func (s *Server) Register(r grpc.ServiceRegistrar) {
	r.RegisterService(&ServiceDesc, s)
}

func (s *Server) isOpen() bool {
	return atomic.LoadInt32(&s.status) == 1
}

// Watch streams the records of the requested topic until the client goes
// away or the server is closed.
func (s *Server) Watch(req *wrapperspb.StringValue, stream grpc.ServerStream) error {
	topic := req.GetValue()
	if topic == "" {
		return status.Error(codes.InvalidArgument, transport.ErrTopicRequired.Error())
	}
	if !s.isOpen() {
		return status.Error(codes.Unavailable, transport.ErrTransportClosed.Error())
	}

	w := &watcher{ch: make(chan *transport.Record, s.bufferSize)}
	s.mu.Lock()
	if s.watchers[topic] == nil {
		s.watchers[topic] = make(map[*watcher]struct{})
	}
	s.watchers[topic][w] = struct{}{}
	s.mu.Unlock()
	defer s.remove(topic, w)

	s.logger.Debug("watcher added", "topic", topic)
	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return nil
		case rec := <-w.ch:
			msg, err := payload.ToStruct(rec)
			if err != nil {
				s.logger.Warn("record not streamable, skipped", "topic", topic, "record", rec.ID, "error", err)
				continue
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}

func (s *Server) remove(topic string, w *watcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.watchers[topic], w)
	if len(s.watchers[topic]) == 0 {
		delete(s.watchers, topic)
	}
}

// Publish hands rec to every watcher of topic without blocking.
func (s *Server) Publish(ctx context.Context, topic string, rec *transport.Record) error {
	if !s.isOpen() {
		return transport.ErrTransportClosed
	}
	if topic == "" {
		return transport.ErrTopicRequired
	}
	if rec == nil {
		return transport.ErrNilRecord
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for w := range s.watchers[topic] {
		select {
		case w.ch <- rec.Clone():
		default:
			s.dropped.Add(1)
			s.logger.Debug("record dropped, watcher too slow", "topic", topic, "record", rec.ID)
		}
	}
	return nil
}

// Watchers returns the number of active watchers of topic.
func (s *Server) Watchers(topic string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.watchers[topic])
}

// Dropped returns the number of records dropped for slow watchers.
func (s *Server) Dropped() int64 {
	return s.dropped.Load()
}

// Close ends all watch streams.
func (s *Server) Close(ctx context.Context) error {
	if atomic.CompareAndSwapInt32(&s.status, 1, 0) {
		close(s.done)
	}
	return nil
}

// Watcher receives the records of one Watch call.
type Watcher struct {
	stream grpc.ClientStream
}

// Watch starts watching topic on the feed served behind conn.
//
//	conn, _ := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
//	w, _ := grpctransport.Watch(ctx, conn, "qubes.events")
//	for {
//	    rec, err := w.Recv()
//	    ...
//	}
func Watch(ctx context.Context, conn grpc.ClientConnInterface, topic string) (*Watcher, error) {
	if topic == "" {
		return nil, transport.ErrTopicRequired
	}
	stream, err := conn.NewStream(ctx, &ServiceDesc.Streams[0], watchMethod)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(wrapperspb.String(topic)); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &Watcher{stream: stream}, nil
}

// Recv blocks until the next record arrives. It returns io.EOF when the
// server ends the stream.
func (w *Watcher) Recv() (*transport.Record, error) {
	msg := new(structpb.Struct)
	if err := w.stream.RecvMsg(msg); err != nil {
		return nil, err
	}
	rec := &transport.Record{}
	if err := payload.FromStruct(msg, rec); err != nil {
		return nil, &transport.DecodeError{Err: errors.Join(transport.ErrDecodeFailure, err)}
	}
	return rec, nil
}

var (
	_ transport.Publisher = (*Server)(nil)
	_ FeedServer          = (*Server)(nil)
)
