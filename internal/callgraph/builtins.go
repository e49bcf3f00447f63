package callgraph

// builtins is the Python builtin callable vocabulary, including the
// standard exception classes.
var builtins = toSet(
	"abs", "aiter", "all", "anext", "any", "ascii", "bin", "bool", "breakpoint",
	"bytearray", "bytes", "callable", "chr", "classmethod", "compile", "complex",
	"delattr", "dict", "dir", "divmod", "enumerate", "eval", "exec", "filter",
	"float", "format", "frozenset", "getattr", "globals", "hasattr", "hash",
	"help", "hex", "id", "input", "int", "isinstance", "issubclass", "iter",
	"len", "list", "locals", "map", "max", "memoryview", "min", "next",
	"object", "oct", "open", "ord", "pow", "print", "property", "range",
	"repr", "reversed", "round", "set", "setattr", "slice", "sorted",
	"staticmethod", "str", "sum", "super", "tuple", "type", "vars", "zip",
	"__import__",

	"BaseException", "Exception", "ArithmeticError", "AssertionError",
	"AttributeError", "ConnectionError", "DeprecationWarning", "EOFError",
	"FileExistsError", "FileNotFoundError", "ImportError", "IndexError",
	"IOError", "KeyError", "KeyboardInterrupt", "LookupError",
	"ModuleNotFoundError", "NameError", "NotImplementedError", "OSError",
	"OverflowError", "PermissionError", "RecursionError", "RuntimeError",
	"StopIteration", "SystemExit", "TimeoutError", "TypeError",
	"UnicodeDecodeError", "UnicodeEncodeError", "UserWarning", "ValueError",
	"Warning", "ZeroDivisionError",
)

func toSet(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

// IsBuiltin reports whether name is a Python builtin callable.
func IsBuiltin(name string) bool {
	return builtins[name]
}
