package command

import (
	"testing"

	"github.com/signalsfoundry/skytrack/model"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		text string
		want model.Command
	}{
		{
			name: "target id chinese",
			text: "建议飞向ID 3的bus进行车牌识别。",
			want: model.MoveToTarget{TargetID: 3},
		},
		{
			name: "target id no space",
			text: "飞向ID12，保持警戒。",
			want: model.MoveToTarget{TargetID: 12},
		},
		{
			name: "target id english",
			text: "Fly to ID 7 for a closer look.",
			want: model.MoveToTarget{TargetID: 7},
		},
		{
			name: "move away chinese",
			text: "建议远离人群区域保持安全。",
			want: model.MoveAway{TargetLabel: "人群区域保持安全"},
		},
		{
			name: "move away english",
			text: "Move away from pedestrians immediately.",
			want: model.MoveAway{TargetLabel: "pedestrians"},
		},
		{
			name: "hold altitude chinese",
			text: "保持50米高度巡航。",
			want: model.SetAltitude{AltitudeM: 50},
		},
		{
			name: "hold altitude decimal",
			text: "保持72.5米高度。",
			want: model.SetAltitude{AltitudeM: 72.5},
		},
		{
			name: "hold altitude english",
			text: "Hold altitude at 80 meters while observing.",
			want: model.SetAltitude{AltitudeM: 80},
		},
		{
			name: "ascend chinese",
			text: "上升20米以扩大视野。",
			want: model.AdjustAltitude{Direction: model.Ascend, DeltaM: 20},
		},
		{
			name: "descend chinese with spaces",
			text: "下降 15 米靠近观察。",
			want: model.AdjustAltitude{Direction: model.Descend, DeltaM: 15},
		},
		{
			name: "descend english",
			text: "Descend 10 metres for detail.",
			want: model.AdjustAltitude{Direction: model.Descend, DeltaM: 10},
		},
		{
			name: "hover chinese",
			text: "当前无异常，建议悬停观察。",
			want: model.Hover{},
		},
		{
			name: "hover english",
			text: "No threats detected; hover in place.",
			want: model.Hover{},
		},
		{
			name: "no command",
			text: "画面中有两辆汽车，均为静止状态，无异常。",
			want: nil,
		},
		{
			name: "diagnostic text",
			text: "[API 调用失败] 请求超时，请检查网络连接",
			want: nil,
		},
		{
			name: "empty",
			text: "",
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.text)
			if got != tt.want {
				t.Fatalf("Parse(%q) = %#v, want %#v", tt.text, got, tt.want)
			}
		})
	}
}

func TestParse_FirstRuleWins(t *testing.T) {
	// Mentions both a target id and hover; the target rule is earlier.
	got := Parse("建议飞向ID 3的bus，到达后悬停。")
	if got != (model.MoveToTarget{TargetID: 3}) {
		t.Fatalf("Parse = %#v, want MoveToTarget{3}", got)
	}

	// Move-away outranks the altitude rules.
	got = Parse("远离car, 并上升30米。")
	if got != (model.MoveAway{TargetLabel: "car"}) {
		t.Fatalf("Parse = %#v, want MoveAway{car}", got)
	}
}

func TestParse_InvalidNumberFallsThrough(t *testing.T) {
	// The ascend rule matches syntactically in English only with digits, so
	// a word where the number should be means the rule does not fire; the
	// hover keyword later in the text still does.
	got := Parse("Ascend abc meters, otherwise hover.")
	if got != (model.Hover{}) {
		t.Fatalf("Parse = %#v, want Hover{}", got)
	}

	if got := Parse("Ascend abc meters."); got != nil {
		t.Fatalf("Parse = %#v, want nil", got)
	}
}
