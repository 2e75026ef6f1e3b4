package daemon

import (
	"context"

	"github.com/codemodehq/codemode/pkg/kernel"
)

// ChannelConn is the slice of the kernel channels socket a runner drives.
// *kernel.Conn implements it.
type ChannelConn interface {
	SendExecuteRequest(msgID, code string) error
	ReadFrame() ([]byte, error)
	Close() error
}

// KernelGateway is the gateway surface one daemon owns: create its kernel,
// dial the channels socket, delete the kernel, release the transport.
type KernelGateway interface {
	CreateKernel(ctx context.Context) (string, error)
	DialChannels(ctx context.Context, kernelID string) (ChannelConn, error)
	DeleteKernel(ctx context.Context, kernelID string) error
	Close()
}

// GatewayFactory builds the gateway client for one daemon from the start
// request's credentials. The default uses pkg/kernel; tests substitute
// fakes here.
type GatewayFactory func(baseURL, token, password string) (KernelGateway, error)

// kernelGateway adapts *kernel.Client to KernelGateway.
type kernelGateway struct {
	client *kernel.Client
}

func newKernelGateway(baseURL, token, password string) (KernelGateway, error) {
	client, err := kernel.New(baseURL, token, password)
	if err != nil {
		return nil, err
	}
	return &kernelGateway{client: client}, nil
}

func (g *kernelGateway) CreateKernel(ctx context.Context) (string, error) {
	return g.client.CreateKernel(ctx)
}

func (g *kernelGateway) DialChannels(ctx context.Context, kernelID string) (ChannelConn, error) {
	conn, err := g.client.DialChannels(ctx, kernelID)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (g *kernelGateway) DeleteKernel(ctx context.Context, kernelID string) error {
	return g.client.DeleteKernel(ctx, kernelID)
}

func (g *kernelGateway) Close() {
	g.client.Close()
}
