package extract

import (
	"strings"
	"testing"
)

const goodTestbench = `module tb();
  reg clk;
  initial begin
    $fsdbDumpfile("waves.fsdb");
    $fsdbDumpvars(0, tb);
  end
  fsm u_fsm (.clk(clk));
  initial #100 $finish;
endmodule`

func TestLooksLikeValidTestbench(t *testing.T) {
	tests := []struct {
		name string
		code string
		dut  string
		want bool
	}{
		{name: "complete", code: goodTestbench, dut: "fsm", want: true},
		{name: "unknown dut", code: goodTestbench, want: true},
		{name: "wrong top name", code: replace(goodTestbench, "module tb()", "module top()"), dut: "fsm"},
		{name: "no dumpfile", code: replace(goodTestbench, "$fsdbDumpfile", "$display"), dut: "fsm"},
		{name: "no dumpvars", code: replace(goodTestbench, "$fsdbDumpvars", "$display"), dut: "fsm"},
		{name: "no finish", code: replace(goodTestbench, "$finish", "$stop"), dut: "fsm"},
		{name: "dut not instantiated", code: goodTestbench, dut: "counter"},
		{name: "parameterized instance", code: replace(goodTestbench, "fsm u_fsm (", "fsm #(.N(2)) u_fsm ("), dut: "fsm", want: true},
		{name: "empty", code: "", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LooksLikeValidTestbench(tt.code, tt.dut); got != tt.want {
				t.Fatalf("LooksLikeValidTestbench() = %v, want %v (missing %v)", got, tt.want, CheckTestbench(tt.code, tt.dut).Missing())
			}
		})
	}
}

func replace(s, old, new string) string {
	return strings.Replace(s, old, new, 1)
}
