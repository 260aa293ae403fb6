package errors

// hints 各错误码的修复建议
var hints = map[string][]string{
	J0100: {
		"only nop, putnil, putobject, putself, getlocal_WC_0, leave, opt_lt, opt_plus, opt_minus and opt_send_without_block are compiled",
		"keep the method on the interpreter by raising vm.call_threshold above its call count",
	},
	J0101: {
		"the compiled code keeps at most 4 operands live; split deep expressions into smaller methods",
	},
	J0200: {
		"check the [jit.layout] offsets against the host VM's control frame definition",
	},
	J0300: {
		"the instruction list contains an operand shape the encoder cannot express",
	},
	J0301: {
		"raise jit.buffer_size; compiled code is never freed",
	},
	J0302: {
		"the host refused to change page protections; check for W^X policies such as SELinux execmem or PaX MPROTECT",
	},
	J0400: {
		"every opt_send_without_block operand must index a call data entry with a callee",
	},
	J0401: {
		"a method that calls itself, directly or through others, cannot be compiled ahead of its callees",
	},
	J0402: {
		"the callee compiled without installing an entry; this is a bug in the compiler",
	},
}

// Hints 获取错误码的修复建议
func Hints(code string) []string {
	return hints[code]
}
