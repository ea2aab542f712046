// Package natdetect classifies the local node as open or nated using STUN.
//
// The detector asks a STUN server for the address it observed the request
// from. If that address is one of the local interface addresses there is no
// NAT between the node and the server, so the node is open.
package natdetect

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/hashicorp/go-sockaddr"
	"github.com/pion/stun"
	"go.uber.org/zap"

	"github.com/andydunstall/swimrelay/pkg/backoff"
	"github.com/andydunstall/swimrelay/pkg/log"
	"github.com/andydunstall/swimrelay/pkg/swim"
)

var (
	ErrNoServers       = errors.New("no stun servers")
	ErrNoMappedAddress = errors.New("no mapped address")
)

// Result is the outcome of NAT detection.
type Result struct {
	NAT swim.NATType
	// Mapped is the public address observed by the STUN server.
	Mapped *net.UDPAddr
}

type Detector struct {
	conf *Config

	// query returns the mapped address from the given STUN server.
	query func(ctx context.Context, server string) (*net.UDPAddr, error)
	// localIPs returns the local interface addresses.
	localIPs func() ([]net.IP, error)

	logger log.Logger
}

func NewDetector(conf *Config, logger log.Logger) *Detector {
	d := &Detector{
		conf:     conf,
		localIPs: interfaceIPs,
		logger:   logger.WithSubsystem("natdetect"),
	}
	d.query = d.queryServer
	return d
}

// Detect queries the configured STUN servers in order until one responds,
// and classifies the node by comparing the mapped address with the local
// interface addresses.
func (d *Detector) Detect(ctx context.Context) (Result, error) {
	mapped, err := d.MappedAddr(ctx)
	if err != nil {
		return Result{}, err
	}

	ips, err := d.localIPs()
	if err != nil {
		return Result{}, fmt.Errorf("local ips: %w", err)
	}

	result := Result{NAT: swim.NATTypeNated, Mapped: mapped}
	for _, ip := range ips {
		if ip.Equal(mapped.IP) {
			result.NAT = swim.NATTypeOpen
			break
		}
	}

	d.logger.Info(
		"detected nat type",
		zap.String("nat", result.NAT.String()),
		zap.String("mapped", mapped.String()),
	)

	return result, nil
}

// MappedAddr returns the public address observed by the first STUN server to
// respond.
func (d *Detector) MappedAddr(ctx context.Context) (*net.UDPAddr, error) {
	if len(d.conf.Servers) == 0 {
		return nil, ErrNoServers
	}

	var lastErr error
	for _, server := range d.conf.Servers {
		backoff := backoff.New(d.conf.Retries, time.Millisecond*500, time.Second*5)
		for {
			addr, err := d.query(ctx, server)
			if err == nil {
				return addr, nil
			}
			lastErr = err

			d.logger.Warn(
				"stun query failed",
				zap.String("server", server),
				zap.Error(err),
			)

			if d.conf.Retries == 0 || !backoff.Wait(ctx) {
				break
			}
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("stun: %w", lastErr)
}

func (d *Detector) queryServer(ctx context.Context, server string) (*net.UDPAddr, error) {
	raddr, err := net.ResolveUDPAddr("udp", server)
	if err != nil {
		return nil, fmt.Errorf("resolve: %s: %w", server, err)
	}

	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("dial: %s: %w", server, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(d.conf.Timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}

	req, err := stun.Build(stun.TransactionID, stun.BindingRequest)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if _, err := req.WriteTo(conn); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	buf := make([]byte, 1500)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return decodeMappedAddr(buf[:n])
}

func decodeMappedAddr(b []byte) (*net.UDPAddr, error) {
	res := new(stun.Message)
	res.Raw = b
	if err := res.Decode(); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	var xorAddr stun.XORMappedAddress
	if err := xorAddr.GetFrom(res); err == nil {
		return &net.UDPAddr{IP: xorAddr.IP, Port: xorAddr.Port}, nil
	}

	// Fall back to MAPPED-ADDRESS for older servers.
	var mappedAddr stun.MappedAddress
	if err := mappedAddr.GetFrom(res); err != nil {
		return nil, ErrNoMappedAddress
	}
	return &net.UDPAddr{IP: mappedAddr.IP, Port: mappedAddr.Port}, nil
}

func interfaceIPs() ([]net.IP, error) {
	ifAddrs, err := sockaddr.GetAllInterfaces()
	if err != nil {
		return nil, err
	}

	var ips []net.IP
	for _, ifAddr := range ifAddrs {
		ipAddr, ok := ifAddr.SockAddr.(sockaddr.IPAddr)
		if !ok {
			continue
		}
		if ip := ipAddr.NetIP(); ip != nil {
			ips = append(ips, *ip)
		}
	}
	return ips, nil
}
