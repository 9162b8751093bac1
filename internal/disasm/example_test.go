package disasm_test

import (
	"fmt"

	"identify/internal/disasm"
)

func ExampleSuperset() {
	// push ebp; mov ebp, esp
	code := []byte{0x55, 0x89, 0xe5}
	for _, c := range disasm.Superset(code, 0x1000, 32) {
		fmt.Printf("0x%x %d %s\n", c.Addr, c.Len, c.Class)
	}
	// Output:
	// 0x1000 1 PUSH_r32
	// 0x1001 2 MOV_r32_r32
}
