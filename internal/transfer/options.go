package transfer

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Option configures a Writer, a RangeFile or a read.
// Options that do not apply to a given transfer are ignored.
type Option func(*settings)

type settings struct {
	client      *http.Client
	dial        DialFunc
	dialTimeout time.Duration
	ioTimeout   time.Duration
	log         logrus.FieldLogger

	verify bool

	replicas      int
	replicaWithin time.Duration
	replicaPoll   time.Duration
}

func newSettings(opts []Option) settings {
	s := settings{
		client:      defaultHTTPClient,
		dial:        defaultDial,
		dialTimeout: DefaultDialTimeout,
		ioTimeout:   DefaultIOTimeout,
		log:         logrus.StandardLogger(),
		replicaPoll: time.Second,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// WithHTTPClient sets the client used for whole-body PUTs, GETs and range requests.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) {
		if c != nil {
			s.client = c
		}
	}
}

// WithDialer replaces the TCP dialer used by streaming uploads.
func WithDialer(dial DialFunc) Option {
	return func(s *settings) {
		if dial != nil {
			s.dial = dial
		}
	}
}

// WithDialTimeout bounds each storage node connect of a streaming upload.
func WithDialTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.dialTimeout = d
		}
	}
}

// WithIOTimeout bounds each socket write and the status read of a streaming upload.
func WithIOTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.ioTimeout = d
		}
	}
}

// WithLogger sets the logger. Transfer log lines carry a "transfer" id field.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *settings) {
		if log != nil {
			s.log = log
		}
	}
}

// WithVerify re-reads the stored file after the commit and compares it.
func WithVerify(verify bool) Option {
	return func(s *settings) {
		s.verify = verify
	}
}

// WithReplicaWait makes Close poll get_paths every poll until at least min
// paths exist, failing with ErrReplicaTimeout after within.
func WithReplicaWait(min int, within, poll time.Duration) Option {
	return func(s *settings) {
		s.replicas = min
		s.replicaWithin = within
		if poll > 0 {
			s.replicaPoll = poll
		}
	}
}
