package itf

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mdzio/go-hmcentral/xmlrpc"

	"github.com/mdzio/go-logging"
)

var svrLog = logging.Get("itf-server")

// A Receiver handles notifications from a device interface process. One
// Receiver is registered per interface id.
type Receiver interface {
	// A value has changed.
	Event(interfaceID, address, valueKey string, value interface{}) error

	// Devices are added.
	NewDevices(interfaceID string, devDescriptions []*DeviceDescription) error

	// Devices are deleted.
	DeleteDevices(interfaceID string, addresses []string) error

	// A device or channel has changed. hint=0: any changes; hint=1: number of
	// links changed
	UpdateDevice(interfaceID, address string, hint int) error

	// A device was replaced.
	ReplaceDevice(interfaceID, oldDeviceAddress, newDeviceAddress string) error

	// ReaddedDevice is called, when an already connected device is paired
	// again. Deleted logical devices are listed in deletedAddresses.
	ReaddedDevice(interfaceID string, deletedAddresses []string) error

	// The interface process reports an asynchronous error condition.
	Error(interfaceID string, code int, message string) error

	// ListDevices returns the device stubs (ADDRESS and VERSION suffice) known
	// for the interface, so the backend can delta-sync with newDevices and
	// deleteDevices.
	ListDevices(interfaceID string) ([]*DeviceDescription, error)
}

// Server receives the XML-RPC callbacks of the interface processes and routes
// them by interface id to the registered Receiver's. Callbacks for an unknown
// interface id are dropped without an error response; the backend would
// otherwise cancel the whole subscription.
type Server struct {
	// listen address, e.g. ":2123"
	Addr string
	// request size limit, 0 for the default
	RequestSizeLimit int64

	mtx       sync.RWMutex
	receivers map[string]Receiver

	dispatcher *xmlrpc.BasicDispatcher
	listener   net.Listener
	httpServer *http.Server
	done       chan error
}

// BoundAddr returns the actual listen address, e.g. when Addr selects port 0.
func (s *Server) BoundAddr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Register attaches a Receiver for an interface id. A previous registration
// for the same id is replaced.
func (s *Server) Register(interfaceID string, r Receiver) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.receivers == nil {
		s.receivers = make(map[string]Receiver)
	}
	s.receivers[interfaceID] = r
}

// Unregister detaches the Receiver of an interface id.
func (s *Server) Unregister(interfaceID string) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	delete(s.receivers, interfaceID)
}

func (s *Server) receiver(interfaceID string) Receiver {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.receivers[interfaceID]
}

// Start launches the callback server. Failures after a successful start are
// signalled through the serveErr callback.
func (s *Server) Start(serveErr func(error)) error {
	s.dispatcher = &xmlrpc.BasicDispatcher{}
	s.dispatcher.AddSystemMethods()
	s.addCallbackMethods()

	handler := &xmlrpc.Handler{
		RequestSizeLimit: s.RequestSizeLimit,
		Dispatcher:       s.dispatcher,
	}
	mux := http.NewServeMux()
	// interface processes use both paths
	mux.Handle("/", handler)
	mux.Handle("/RPC2", handler)

	lis, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("Starting of callback server on %s failed: %v", s.Addr, err)
	}
	s.listener = lis
	svrLog.Infof("Starting callback server on %s", lis.Addr())
	s.httpServer = &http.Server{Handler: mux}
	s.done = make(chan error)
	go func() {
		err := s.httpServer.Serve(lis)
		if err != nil && err != http.ErrServerClosed {
			if serveErr != nil {
				serveErr(fmt.Errorf("Callback server failed: %v", err))
			}
		}
		s.done <- nil
	}()
	return nil
}

// Stop shuts the callback server down and waits for completion.
func (s *Server) Stop() {
	if s.httpServer == nil {
		return
	}
	svrLog.Debugf("Stopping callback server on %s", s.Addr)
	s.httpServer.Close()
	<-s.done
	s.httpServer = nil
}

// dispatch looks up the receiver and runs fn. An unknown interface id is only
// logged; the backend always gets a regular response.
func (s *Server) dispatch(method, interfaceID string, fn func(Receiver) error) (*xmlrpc.Value, error) {
	r := s.receiver(interfaceID)
	if r == nil {
		svrLog.Debugf("Dropping %s callback for unknown interface id: %s", method, interfaceID)
		return &xmlrpc.Value{}, nil
	}
	if err := fn(r); err != nil {
		return nil, err
	}
	return &xmlrpc.Value{}, nil
}

func (s *Server) addCallbackMethods() {
	d := s.dispatcher

	d.HandleFunc("event", func(args *xmlrpc.Value) (*xmlrpc.Value, error) {
		q := xmlrpc.Q(args)
		if len(q.Slice()) != 4 {
			return nil, fmt.Errorf("Expected 4 arguments for event method: %d", len(q.Slice()))
		}
		interfaceID := q.Idx(0).String()
		address := q.Idx(1).String()
		valueKey := q.Idx(2).String()
		value := q.Idx(3).Any()
		if q.Err() != nil {
			return nil, fmt.Errorf("Invalid argument for event method: %v", q.Err())
		}
		svrLog.Debugf("Call of method event received: %s, %s, %s, %v", interfaceID, address, valueKey, value)
		return s.dispatch("event", interfaceID, func(r Receiver) error {
			return r.Event(interfaceID, address, valueKey, value)
		})
	})

	d.HandleFunc("listDevices", func(args *xmlrpc.Value) (*xmlrpc.Value, error) {
		q := xmlrpc.Q(args)
		if len(q.Slice()) != 1 {
			return nil, fmt.Errorf("Expected one argument for listDevices method: %d", len(q.Slice()))
		}
		interfaceID := q.Idx(0).String()
		if q.Err() != nil {
			return nil, fmt.Errorf("Invalid argument for listDevices method: %v", q.Err())
		}
		svrLog.Debugf("Call of method listDevices received: %s", interfaceID)
		r := s.receiver(interfaceID)
		if r == nil {
			svrLog.Debugf("Dropping listDevices callback for unknown interface id: %s", interfaceID)
			return &xmlrpc.Value{Array: &xmlrpc.Array{Data: []*xmlrpc.Value{}}}, nil
		}
		dds, err := r.ListDevices(interfaceID)
		if err != nil {
			return nil, err
		}
		arr := make([]*xmlrpc.Value, len(dds))
		for i := range dds {
			arr[i] = dds[i].ToValue()
		}
		return &xmlrpc.Value{Array: &xmlrpc.Array{Data: arr}}, nil
	})

	d.HandleFunc("newDevices", func(args *xmlrpc.Value) (*xmlrpc.Value, error) {
		q := xmlrpc.Q(args)
		if len(q.Slice()) != 2 {
			return nil, fmt.Errorf("Expected 2 arguments for newDevices method: %d", len(q.Slice()))
		}
		interfaceID := q.Idx(0).String()
		devDescriptions := q.Idx(1).Slice()
		if q.Err() != nil {
			return nil, fmt.Errorf("Invalid argument for newDevices method: %v", q.Err())
		}
		var descr []*DeviceDescription
		for _, e := range devDescriptions {
			dd := &DeviceDescription{}
			dd.ReadFrom(e)
			if e.Err() != nil {
				return nil, fmt.Errorf("Invalid device description for newDevices method: %v", e.Err())
			}
			descr = append(descr, dd)
		}
		if svrLog.DebugEnabled() {
			var addrs []string
			for _, dd := range descr {
				addrs = append(addrs, dd.Address)
			}
			svrLog.Debugf("Call of method newDevices received: %s, %s", interfaceID, strings.Join(addrs, " "))
		}
		return s.dispatch("newDevices", interfaceID, func(r Receiver) error {
			return r.NewDevices(interfaceID, descr)
		})
	})

	d.HandleFunc("deleteDevices", func(args *xmlrpc.Value) (*xmlrpc.Value, error) {
		q := xmlrpc.Q(args)
		if len(q.Slice()) != 2 {
			return nil, fmt.Errorf("Expected 2 arguments for deleteDevices method: %d", len(q.Slice()))
		}
		interfaceID := q.Idx(0).String()
		addresses := q.Idx(1).Strings()
		if q.Err() != nil {
			return nil, fmt.Errorf("Invalid argument(s) for deleteDevices method: %v", q.Err())
		}
		svrLog.Debugf("Call of method deleteDevices received: %s, %s", interfaceID, strings.Join(addresses, " "))
		return s.dispatch("deleteDevices", interfaceID, func(r Receiver) error {
			return r.DeleteDevices(interfaceID, addresses)
		})
	})

	d.HandleFunc("updateDevice", func(args *xmlrpc.Value) (*xmlrpc.Value, error) {
		q := xmlrpc.Q(args)
		if len(q.Slice()) != 3 {
			return nil, fmt.Errorf("Expected 3 arguments for updateDevice method: %d", len(q.Slice()))
		}
		interfaceID := q.Idx(0).String()
		address := q.Idx(1).String()
		hint := q.Idx(2).Int()
		if q.Err() != nil {
			return nil, fmt.Errorf("Invalid argument(s) for updateDevice method: %v", q.Err())
		}
		svrLog.Debugf("Call of method updateDevice received: %s, %s, %d", interfaceID, address, hint)
		return s.dispatch("updateDevice", interfaceID, func(r Receiver) error {
			return r.UpdateDevice(interfaceID, address, hint)
		})
	})

	d.HandleFunc("replaceDevice", func(args *xmlrpc.Value) (*xmlrpc.Value, error) {
		q := xmlrpc.Q(args)
		if len(q.Slice()) != 3 {
			return nil, fmt.Errorf("Expected 3 arguments for replaceDevice method: %d", len(q.Slice()))
		}
		interfaceID := q.Idx(0).String()
		oldDeviceAddress := q.Idx(1).String()
		newDeviceAddress := q.Idx(2).String()
		if q.Err() != nil {
			return nil, fmt.Errorf("Invalid argument(s) for replaceDevice method: %v", q.Err())
		}
		svrLog.Debugf("Call of method replaceDevice received: %s, %s, %s", interfaceID, oldDeviceAddress, newDeviceAddress)
		return s.dispatch("replaceDevice", interfaceID, func(r Receiver) error {
			return r.ReplaceDevice(interfaceID, oldDeviceAddress, newDeviceAddress)
		})
	})

	d.HandleFunc("readdedDevice", func(args *xmlrpc.Value) (*xmlrpc.Value, error) {
		q := xmlrpc.Q(args)
		if len(q.Slice()) != 2 {
			return nil, fmt.Errorf("Expected 2 arguments for readdedDevice method: %d", len(q.Slice()))
		}
		interfaceID := q.Idx(0).String()
		deletedAddresses := q.Idx(1).Strings()
		if q.Err() != nil {
			return nil, fmt.Errorf("Invalid argument(s) for readdedDevice method: %v", q.Err())
		}
		svrLog.Debugf("Call of method readdedDevice received: %s, %s", interfaceID, strings.Join(deletedAddresses, " "))
		return s.dispatch("readdedDevice", interfaceID, func(r Receiver) error {
			return r.ReaddedDevice(interfaceID, deletedAddresses)
		})
	})

	// XML-RPC: void error(String interface_id, Integer code, String message)
	// Homegear additionally reports asynchronous errors.
	d.HandleFunc("error", func(args *xmlrpc.Value) (*xmlrpc.Value, error) {
		q := xmlrpc.Q(args)
		if len(q.Slice()) != 3 {
			return nil, fmt.Errorf("Expected 3 arguments for error method: %d", len(q.Slice()))
		}
		interfaceID := q.Idx(0).String()
		code := q.Idx(1).Int()
		message := q.Idx(2).String()
		if q.Err() != nil {
			return nil, fmt.Errorf("Invalid argument(s) for error method: %v", q.Err())
		}
		svrLog.Warningf("Call of method error received: %s, %d, %s", interfaceID, code, message)
		return s.dispatch("error", interfaceID, func(r Receiver) error {
			return r.Error(interfaceID, code, message)
		})
	})

	// XML-RPC: ? setReadyConfig(?)
	//
	// Attention: This call is not forwarded to a Receiver.
	d.HandleFunc("setReadyConfig", func(args *xmlrpc.Value) (*xmlrpc.Value, error) {
		svrLog.Debugf("Call of method setReadyConfig received, arguments: %s", args)
		// not needed, not implemented
		return &xmlrpc.Value{}, nil
	})
}

// LocalAddrForPeer determines the local IP address that routes to the peer
// address (host or host:port). No packet is sent; the UDP socket is only used
// for the routing decision.
func LocalAddrForPeer(peer string) (string, error) {
	host := peer
	if h, _, err := net.SplitHostPort(peer); err == nil {
		host = h
	}
	conn, err := net.DialTimeout("udp", net.JoinHostPort(host, "2001"), 5*time.Second)
	if err != nil {
		return "", fmt.Errorf("Probing of local address for %s failed: %v", peer, err)
	}
	defer conn.Close()
	localAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", fmt.Errorf("Probing of local address for %s failed: unexpected address type", peer)
	}
	return localAddr.IP.String(), nil
}
