package processing

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/api3dao/commons-go/pkg/logger"
)

func newTestExecutor() *Executor {
	return NewExecutor(logger.Nop())
}

func TestEvaluateSync(t *testing.T) {
	e := newTestExecutor()
	ctx := context.Background()

	tests := []struct {
		name    string
		code    string
		globals Globals
		want    interface{}
	}{
		{
			name:    "spreads input",
			code:    "const output = {...input, b: 2};",
			globals: Globals{"input": map[string]interface{}{"a": 1}},
			want:    map[string]interface{}{"a": 1.0, "b": 2.0},
		},
		{
			name: "undefined output",
			code: "const output = undefined;",
			want: nil,
		},
		{
			name: "no timers in sync mode",
			code: "const output = typeof setTimeout;",
			want: "undefined",
		},
		{
			name: "trailing comment",
			code: "const output = 'ok' // done",
			want: "ok",
		},
		{
			name:    "array input",
			code:    "input.push(3); const output = input;",
			globals: Globals{"input": []interface{}{1, 2}},
			want:    []interface{}{1.0, 2.0, 3.0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.EvaluateSync(ctx, tt.code, tt.globals, time.Second)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateSync_ThrownError(t *testing.T) {
	e := newTestExecutor()

	_, err := e.EvaluateSync(context.Background(), "throw new Error('unexpected');", nil, time.Second)
	var thrown *ThrownError
	require.ErrorAs(t, err, &thrown)
	assert.Equal(t, "Error", thrown.Name)
	assert.Equal(t, "unexpected", thrown.Message)
	assert.True(t, thrown.IsErrorObject())
	assert.Equal(t, "Error: unexpected", err.Error())
}

func TestEvaluateSync_ThrownPrimitive(t *testing.T) {
	e := newTestExecutor()

	_, err := e.EvaluateSync(context.Background(), "throw 'boom';", nil, time.Second)
	var thrown *ThrownError
	require.ErrorAs(t, err, &thrown)
	assert.False(t, thrown.IsErrorObject())
	assert.Equal(t, "boom", thrown.Value)
	assert.Equal(t, "boom", err.Error())
}

func TestEvaluateSync_Timeout(t *testing.T) {
	e := newTestExecutor()

	start := time.Now()
	_, err := e.EvaluateSync(context.Background(), "while (true) {}", nil, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrScriptTimeout)
	assert.True(t, IsTimeout(err))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestEvaluateSync_ContextCancelled(t *testing.T) {
	e := newTestExecutor()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := e.EvaluateSync(ctx, "while (true) {}", nil, 5*time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEvaluate_SyntaxErrorIsImmediate(t *testing.T) {
	e := newTestExecutor()
	ctx := context.Background()
	timeout := 5 * time.Second

	run := map[string]func() error{
		"sync": func() error {
			_, err := e.EvaluateSync(ctx, "const output = ;", nil, timeout)
			return err
		},
		"async": func() error {
			_, err := e.EvaluateAsync(ctx, "resolve(;", nil, timeout)
			return err
		},
		"v2": func() error {
			_, err := e.EvaluateAsyncV2(ctx, "(payload) => { return payload", nil, timeout)
			return err
		},
	}
	for name, fn := range run {
		t.Run(name, func(t *testing.T) {
			start := time.Now()
			err := fn()
			var syntaxErr *SyntaxError
			assert.ErrorAs(t, err, &syntaxErr)
			assert.Less(t, time.Since(start), time.Second)
		})
	}
}

func TestEvaluate_RejectsNonPositiveTimeout(t *testing.T) {
	e := newTestExecutor()

	_, err := e.EvaluateSync(context.Background(), "const output = 1;", nil, 0)
	assert.Error(t, err)
	_, err = e.EvaluateAsync(context.Background(), "resolve(1);", nil, -time.Second)
	assert.Error(t, err)
}

func TestEvaluate_Builtins(t *testing.T) {
	e := newTestExecutor()

	tests := []struct {
		name string
		code string
		want interface{}
	}{
		{"sha256", "const output = crypto.sha256('abc');", "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
		{"keccak256", "const output = crypto.keccak256('');", "0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470"},
		{"randomBytes", "const output = crypto.randomBytes(8).length;", 16.0},
		{"randomUUID", "const output = crypto.randomUUID().length;", 36.0},
		{"path.join", "const output = path.join('a', 'b', '../c');", "a/c"},
		{"path.extname", "const output = path.extname('/tmp/file.json');", ".json"},
		{"url.parse", "const output = url.parse('https://example.com:8443/p?q=1#h').port;", "8443"},
		{"util.format", "const output = util.format('%s=%d', 'a', 1.5);", "a=1"},
		{"os.EOL", "const output = os.EOL;", "\n"},
		{"process.pid", "const output = process.pid > 0;", true},
		{"fs.existsSync", "const output = fs.existsSync('/definitely/not/here');", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.EvaluateSync(context.Background(), tt.code, nil, time.Second)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluate_BuiltinErrorsAreCatchable(t *testing.T) {
	e := newTestExecutor()

	code := `
let output;
try {
  fs.readFileSync('/definitely/not/here');
  output = 'read';
} catch (err) {
  output = 'caught';
}`
	got, err := e.EvaluateSync(context.Background(), code, nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "caught", got)
}

func TestEvaluate_ConsoleUsesLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := logger.New(logger.Config{Enabled: true, Format: logger.FormatJSON, MinLevel: logger.LevelDebug, Output: &buf})
	require.NoError(t, err)
	e := NewExecutor(log)

	_, err = e.EvaluateSync(context.Background(), "console.log('hello', {a: 1}); const output = 1;", nil, time.Second)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `hello {\"a\":1}`)
}

func TestEvaluateAsync(t *testing.T) {
	e := newTestExecutor()

	got, err := e.EvaluateAsync(context.Background(), "resolve(input.a + 1);", Globals{"input": map[string]interface{}{"a": 1}}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2.0, got)
}

func TestEvaluateAsync_AsyncFunction(t *testing.T) {
	e := newTestExecutor()

	code := `
const run = async () => {
  const value = await Promise.resolve(input * 2);
  resolve(value);
};
run();`
	got, err := e.EvaluateAsync(context.Background(), code, Globals{"input": 21}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 42.0, got)
}

func TestEvaluateAsync_Reject(t *testing.T) {
	e := newTestExecutor()

	_, err := e.EvaluateAsync(context.Background(), "setTimeout(() => reject(new TypeError('bad input')), 5);", nil, time.Second)
	var thrown *ThrownError
	require.ErrorAs(t, err, &thrown)
	assert.Equal(t, "TypeError", thrown.Name)
	assert.Equal(t, "bad input", thrown.Message)
}

func TestEvaluateAsync_RejectPrimitive(t *testing.T) {
	e := newTestExecutor()

	_, err := e.EvaluateAsync(context.Background(), "reject({code: 7});", nil, time.Second)
	var thrown *ThrownError
	require.ErrorAs(t, err, &thrown)
	assert.Equal(t, map[string]interface{}{"code": 7.0}, thrown.Value)
}

func TestEvaluateAsync_SyncThrowRejects(t *testing.T) {
	e := newTestExecutor()

	start := time.Now()
	_, err := e.EvaluateAsync(context.Background(), "throw new Error('early');", nil, 5*time.Second)
	var thrown *ThrownError
	require.ErrorAs(t, err, &thrown)
	assert.Equal(t, "early", thrown.Message)
	assert.Less(t, time.Since(start), time.Second)
}

func TestEvaluateAsync_TimerCallbackThrowRejects(t *testing.T) {
	e := newTestExecutor()

	_, err := e.EvaluateAsync(context.Background(), "setTimeout(() => { throw new Error('in timer'); }, 1);", nil, time.Second)
	var thrown *ThrownError
	require.ErrorAs(t, err, &thrown)
	assert.Equal(t, "in timer", thrown.Message)
}

func TestEvaluateAsync_FirstSettlementWins(t *testing.T) {
	e := newTestExecutor()

	got, err := e.EvaluateAsync(context.Background(), "resolve(1); reject(new Error('ignored')); resolve(2);", nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got)
}

func TestEvaluateAsync_TimersAndIntervals(t *testing.T) {
	e := newTestExecutor()

	code := `
const fn = async () => {
  const output = input;
  output.push('start');
  setInterval(() => output.push('ping interval'), 40);
  await new Promise((res) => setTimeout(res, 40 * 4 + 20));
  output.push('end');
  resolve(output);
};
fn();`
	got, err := e.EvaluateAsync(context.Background(), code, Globals{"input": []interface{}{}}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{
		"start",
		"ping interval",
		"ping interval",
		"ping interval",
		"ping interval",
		"end",
	}, got)
}

func TestEvaluateAsync_ClearTimeout(t *testing.T) {
	e := newTestExecutor()

	code := `
const id = setTimeout(() => resolve('cleared timer fired'), 10);
clearTimeout(id);
setTimeout(() => resolve('ok'), 30);`
	got, err := e.EvaluateAsync(context.Background(), code, nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}

func TestEvaluateAsync_Timeout(t *testing.T) {
	e := newTestExecutor()

	start := time.Now()
	_, err := e.EvaluateAsync(context.Background(), "setTimeout(() => resolve('late'), 200);", nil, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, "Timeout exceeded", err.Error())
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}

func TestEvaluateAsync_ReleasesTimersOnSettle(t *testing.T) {
	e := newTestExecutor()
	var calls atomic.Int32
	record := func(string) { calls.Add(1) }

	code := `
setTimeout(() => record('timeout'), 20);
setInterval(() => record('interval'), 10);
resolve('done');`
	got, err := e.EvaluateAsync(context.Background(), code, Globals{"record": record}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "done", got)

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestEvaluateAsync_ReleasesTimersOnTimeout(t *testing.T) {
	e := newTestExecutor()
	var calls atomic.Int32
	record := func(string) { calls.Add(1) }

	_, err := e.EvaluateAsync(context.Background(), "setTimeout(() => record('late'), 60);", Globals{"record": record}, 20*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestEvaluateAsync_ContextCancelled(t *testing.T) {
	e := newTestExecutor()
	ctx, cancel := context.WithCancelCause(context.Background())
	stop := errors.New("shutting down")
	time.AfterFunc(20*time.Millisecond, func() { cancel(stop) })

	_, err := e.EvaluateAsync(ctx, "setInterval(() => {}, 5);", nil, 5*time.Second)
	assert.ErrorIs(t, err, stop)
}

func TestEvaluateAsync_IsolatedInvocations(t *testing.T) {
	e := newTestExecutor()

	_, err := e.EvaluateAsync(context.Background(), "globalThis.leaked = 1; resolve(null);", nil, time.Second)
	require.NoError(t, err)

	got, err := e.EvaluateAsync(context.Background(), "resolve(typeof leaked);", nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "undefined", got)
}

func TestEvaluateAsyncV2(t *testing.T) {
	e := newTestExecutor()
	payload := map[string]interface{}{"parameters": map[string]interface{}{"to": "USD"}}

	tests := []struct {
		name string
		code string
		want interface{}
	}{
		{
			name: "async arrow",
			code: "async ({parameters}) => ({parameters: {...parameters, from: 'ETH'}})",
			want: map[string]interface{}{"parameters": map[string]interface{}{"to": "USD", "from": "ETH"}},
		},
		{
			name: "sync arrow with trailing semicolon",
			code: "  (payload) => payload.parameters.to;  \n",
			want: "USD",
		},
		{
			name: "named function",
			code: "function pick(payload) { return Object.keys(payload); }",
			want: []interface{}{"parameters"},
		},
		{
			name: "awaits timers",
			code: "async () => { await new Promise((r) => setTimeout(r, 10)); return 'waited'; }",
			want: "waited",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.EvaluateAsyncV2(context.Background(), tt.code, payload, time.Second)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateAsyncV2_ThrownValues(t *testing.T) {
	e := newTestExecutor()

	_, err := e.EvaluateAsyncV2(context.Background(), "() => { throw 42; }", nil, time.Second)
	var thrown *ThrownError
	require.ErrorAs(t, err, &thrown)
	assert.Equal(t, 42.0, thrown.Value)

	_, err = e.EvaluateAsyncV2(context.Background(), "async () => { throw new RangeError('out of range'); }", nil, time.Second)
	require.ErrorAs(t, err, &thrown)
	assert.Equal(t, "RangeError", thrown.Name)
	assert.Equal(t, "out of range", thrown.Message)
}

func TestEvaluateAsyncV2_NotAFunction(t *testing.T) {
	e := newTestExecutor()

	_, err := e.EvaluateAsyncV2(context.Background(), "42", nil, time.Second)
	var thrown *ThrownError
	require.ErrorAs(t, err, &thrown)
	assert.Equal(t, "TypeError", thrown.Name)
}

func TestEvaluateAsyncV2_FullTimeout(t *testing.T) {
	e := newTestExecutor()

	_, err := e.EvaluateAsyncV2(context.Background(), "() => new Promise(() => {})", nil, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrFullTimeout)
	assert.Equal(t, "Full timeout exceeded", err.Error())
}

func TestEvaluateAsyncV2_NoResolveBinding(t *testing.T) {
	e := newTestExecutor()

	got, err := e.EvaluateAsyncV2(context.Background(), "() => typeof resolve", nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "undefined", got)
}

func TestWrapFunction(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		binding string
	}{
		{"expression kept as written", "  (p) => p;;  ", "const __processingFunction =   (p) => p;;  \n;\n"},
		{"declaration parenthesised", "function pick(p) { return p; };", "const __processingFunction = (\nfunction pick(p) { return p; }\n);\n"},
		{"unparseable parenthesised", "(p) => {", "const __processingFunction = (\n(p) => {\n);\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := wrapFunction(tt.code)
			assert.True(t, strings.Contains(wrapped, tt.binding), wrapped)
			assert.True(t, strings.HasSuffix(wrapped, ".then(__resolve, __reject);"))
		})
	}
}

func TestEvaluateAsyncV2_TrailingTerminators(t *testing.T) {
	e := newTestExecutor()
	payload := map[string]interface{}{"parameters": map[string]interface{}{"to": "USD"}}

	for _, code := range []string{
		"(payload) => payload.parameters.to; // trailing comment",
		"(payload) => payload.parameters.to /* block */ ;",
		"// leading comment\n(payload) => payload.parameters.to;\n;\n",
		"async function (payload) { return payload.parameters.to; };",
	} {
		got, err := e.EvaluateAsyncV2(context.Background(), code, payload, time.Second)
		require.NoError(t, err, code)
		assert.Equal(t, "USD", got, code)
	}
}

func TestEvaluateAsyncV2_SingleExpressionOnly(t *testing.T) {
	e := newTestExecutor()

	for _, code := range []string{
		"(p) => p; 42",
		"const f = (p) => p; f",
	} {
		_, err := e.EvaluateAsyncV2(context.Background(), code, nil, time.Second)
		var syntaxErr *SyntaxError
		assert.ErrorAs(t, err, &syntaxErr, code)
	}
}
