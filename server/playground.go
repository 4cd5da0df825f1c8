package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"connectrpc.com/connect"

	"github.com/chazu/moonshine/pkg/driver"
	"github.com/chazu/moonshine/vm"
)

// Playground procedures.
const (
	PlaygroundName    = "moonshine.v1.Playground"
	RunProcedure      = "/" + PlaygroundName + "/Run"
	CompileProcedure  = "/" + PlaygroundName + "/Compile"
	ResultProcedure   = "/" + PlaygroundName + "/Result"
	maxSourceBytes    = 1 << 20
	defaultOutputSize = 1 << 20
)

var errOutputLimit = errors.New("output limit exceeded")

// limitedBuffer collects program output up to max bytes.
type limitedBuffer struct {
	bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.Len(); len(p) > room {
		b.Buffer.Write(p[:room])
		return room, errOutputLimit
	}
	return b.Buffer.Write(p)
}

// Playground runs and compiles submitted programs.
type Playground struct {
	worker *Worker
	runs   *RunStore
	cfg    *serverConfig
}

// NewPlayground creates a Playground.
func NewPlayground(worker *Worker, runs *RunStore, cfg *serverConfig) *Playground {
	return &Playground{worker: worker, runs: runs, cfg: cfg}
}

func checkSource(src string) error {
	if src == "" {
		return connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source is required"))
	}
	if len(src) > maxSourceBytes {
		return connect.NewError(connect.CodeInvalidArgument,
			fmt.Errorf("source is %d bytes, limit is %d", len(src), maxSourceBytes))
	}
	return nil
}

// rpcError maps context errors to their Connect codes.
func rpcError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	}
	return connect.NewError(connect.CodeInternal, err)
}

// Run interprets a program and stores the result under a new run ID.
func (p *Playground) Run(
	ctx context.Context,
	req *connect.Request[RunRequest],
) (*connect.Response[RunResponse], error) {
	msg := req.Msg
	if err := checkSource(msg.Source); err != nil {
		return nil, err
	}

	res := &RunResponse{ID: p.runs.NewID()}
	if res.Diagnostics = diagnose(msg.Source); len(res.Diagnostics) > 0 {
		p.runs.Put(res)
		return connect.NewResponse(res), nil
	}

	limit := p.cfg.maxSteps
	if msg.MaxSteps > 0 && (limit == 0 || msg.MaxSteps < limit) {
		limit = msg.MaxSteps
	}
	if p.cfg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.timeout)
		defer cancel()
	}

	_, err := p.worker.Do(ctx, func(d *driver.Driver) (any, error) {
		c, err := d.Compile([]byte(msg.Source))
		if err != nil {
			return nil, err
		}
		out := &limitedBuffer{max: p.cfg.maxOutput}
		m := vm.New(bytes.NewReader(msg.Input), out, vm.WithStepLimit(limit))
		runErr := m.RunContext(ctx, c.Program)

		res.Output = out.Bytes()
		res.Steps = m.Steps()
		switch {
		case runErr == nil:
		case errors.Is(runErr, vm.ErrStepLimit):
			res.StepLimit = true
			res.Error = runErr.Error()
		case ctx.Err() != nil:
			return nil, runErr
		default:
			res.Error = runErr.Error()
		}
		return nil, nil
	})
	if err != nil {
		return nil, rpcError(err)
	}

	log.Debugf("run %s: %d steps, %d bytes of output", res.ID, res.Steps, len(res.Output))
	p.runs.Put(res)
	return connect.NewResponse(res), nil
}

// Compile returns the optimized IR, optimizer statistics and assembly.
func (p *Playground) Compile(
	ctx context.Context,
	req *connect.Request[CompileRequest],
) (*connect.Response[CompileResponse], error) {
	msg := req.Msg
	if err := checkSource(msg.Source); err != nil {
		return nil, err
	}

	res := &CompileResponse{ID: p.runs.NewID()}
	if res.Diagnostics = diagnose(msg.Source); len(res.Diagnostics) > 0 {
		return connect.NewResponse(res), nil
	}

	_, err := p.worker.Do(ctx, func(d *driver.Driver) (any, error) {
		c, err := d.Analyze([]byte(msg.Source))
		if err != nil {
			return nil, err
		}
		var asm bytes.Buffer
		if err := d.Asm(c, &asm); err != nil {
			return nil, err
		}
		res.IR = c.Program.String()
		res.Asm = asm.String()
		res.Key = c.Key.String()
		res.Before = c.Stats.Before
		res.After = c.Stats.After
		res.Iterations = c.Stats.Iterations
		res.Rewrites = c.Stats.Rewrites
		return nil, nil
	})
	if err != nil {
		return nil, rpcError(err)
	}
	return connect.NewResponse(res), nil
}

// Result returns a stored run.
func (p *Playground) Result(
	ctx context.Context,
	req *connect.Request[ResultRequest],
) (*connect.Response[RunResponse], error) {
	res, ok := p.runs.Lookup(req.Msg.ID)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("run %q not found", req.Msg.ID))
	}
	return connect.NewResponse(res), nil
}

// handlers registers the playground procedures on mux.
func (p *Playground) handlers(mux *http.ServeMux) {
	opts := connect.WithHandlerOptions(connect.WithCodec(cborCodec{}))
	mux.Handle(RunProcedure, connect.NewUnaryHandler(RunProcedure, p.Run, opts))
	mux.Handle(CompileProcedure, connect.NewUnaryHandler(CompileProcedure, p.Compile, opts))
	mux.Handle(ResultProcedure, connect.NewUnaryHandler(ResultProcedure, p.Result, opts))
}

// PlaygroundClient calls a playground over Connect with the CBOR codec.
type PlaygroundClient struct {
	run     *connect.Client[RunRequest, RunResponse]
	compile *connect.Client[CompileRequest, CompileResponse]
	result  *connect.Client[ResultRequest, RunResponse]
}

// NewPlaygroundClient creates a client for the playground at baseURL. It
// speaks the Connect protocol unless opts select another (connect.WithGRPC).
func NewPlaygroundClient(httpClient connect.HTTPClient, baseURL string, extra ...connect.ClientOption) *PlaygroundClient {
	opts := connect.WithClientOptions(append([]connect.ClientOption{connect.WithCodec(cborCodec{})}, extra...)...)
	return &PlaygroundClient{
		run:     connect.NewClient[RunRequest, RunResponse](httpClient, baseURL+RunProcedure, opts),
		compile: connect.NewClient[CompileRequest, CompileResponse](httpClient, baseURL+CompileProcedure, opts),
		result:  connect.NewClient[ResultRequest, RunResponse](httpClient, baseURL+ResultProcedure, opts),
	}
}

// Run calls Playground.Run.
func (c *PlaygroundClient) Run(ctx context.Context, req *RunRequest) (*RunResponse, error) {
	res, err := c.run.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

// Compile calls Playground.Compile.
func (c *PlaygroundClient) Compile(ctx context.Context, req *CompileRequest) (*CompileResponse, error) {
	res, err := c.compile.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

// Result calls Playground.Result.
func (c *PlaygroundClient) Result(ctx context.Context, id string) (*RunResponse, error) {
	res, err := c.result.CallUnary(ctx, connect.NewRequest(&ResultRequest{ID: id}))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}
