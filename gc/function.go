package gc

// FunFlags describe a function object.
type FunFlags uint8

const (
	FunInterpreted FunFlags = 1 << iota
	FunHeavyweight
	FunLambda
	FunGenerator
)

// Native is a function implemented in Go. args[0] is the callee, args[1]
// the this value, followed by the actual arguments.
type Native func(args []Value) (Value, error)

// FunctionData is the part of a function object the collector traces
// through the function class hook.
type FunctionData struct {
	flags  FunFlags
	nargs  int
	atom   *String
	script *Script
	env    *Object
	native Native
}

func (f *FunctionData) IsInterpreted() bool  { return f.flags&FunInterpreted != 0 }
func (f *FunctionData) IsHeavyweight() bool  { return f.flags&FunHeavyweight != 0 }
func (f *FunctionData) IsLambda() bool       { return f.flags&FunLambda != 0 }
func (f *FunctionData) IsGenerator() bool    { return f.flags&FunGenerator != 0 }
func (f *FunctionData) NArgs() int           { return f.nargs }
func (f *FunctionData) Atom() *String        { return f.atom }
func (f *FunctionData) Script() *Script      { return f.script }
func (f *FunctionData) Environment() *Object { return f.env }
func (f *FunctionData) Native() Native       { return f.native }

// FunctionClass is the class of function objects.
var FunctionClass = &Class{
	Name:  "Function",
	Flags: ClassImplementsBarriers,
	Trace: traceFunction,
}

func traceFunction(trc *Tracer, obj *Object) {
	f := obj.fun
	if f == nil {
		return
	}
	MarkString(trc, &f.atom, "atom")
	if f.IsInterpreted() {
		MarkScript(trc, &f.script, "script")
		MarkObject(trc, &f.env, "fun_callscope")
	}
}

// IsFunction reports whether obj is a function object.
func (obj *Object) IsFunction() bool {
	return obj.fun != nil
}

// Function returns the function data of a function object.
func (obj *Object) Function() *FunctionData {
	assertf(obj.fun != nil, "Object.Function on %s object", obj.Class().Name)
	return obj.fun
}

// SetEnvironment replaces an interpreted function's enclosing scope.
func (obj *Object) SetEnvironment(env *Object) {
	f := obj.Function()
	if f.env != nil {
		obj.runtime().cellBarrierPre(f.env)
	}
	f.env = env
}

// NewInterpretedFunction allocates a function object running script with
// env as its enclosing scope. The script's function is set to the result.
func (c *Compartment) NewInterpretedFunction(script *Script, env *Object, nargs int, atom *String, flags FunFlags) (*Object, error) {
	obj, err := c.NewObject(FunctionClass, nil, c.global)
	if err != nil {
		return nil, err
	}
	obj.fun = &FunctionData{
		flags:  flags | FunInterpreted,
		nargs:  nargs,
		atom:   atom,
		script: script,
		env:    env,
	}
	script.SetFunction(obj)
	return obj, nil
}

// NewNativeFunction allocates a function object backed by fn.
func (c *Compartment) NewNativeFunction(fn Native, nargs int, atom *String) (*Object, error) {
	obj, err := c.NewObject(FunctionClass, nil, c.global)
	if err != nil {
		return nil, err
	}
	obj.fun = &FunctionData{
		nargs:  nargs,
		atom:   atom,
		native: fn,
	}
	return obj, nil
}
