package chunker_test

import (
	"fmt"

	"github.com/hupe1980/vecbench/chunker"
)

func ExampleFixed() {
	seq, err := chunker.Fixed("doc", "abcdefghijklmnopqrstuvwxyz", 10, 2)
	if err != nil {
		panic(err)
	}
	for c := range seq {
		fmt.Println(c.ID, c.Start, c.End, c.Text)
	}
	// Output:
	// doc#0 0 10 abcdefghij
	// doc#1 8 18 ijklmnopqr
	// doc#2 16 26 qrstuvwxyz
}
