package device

import "time"

// SwitchID 开关标识
type SwitchID int

// 固定的四路开关
const (
	SwitchAlpha SwitchID = iota
	SwitchBravo
	SwitchCharlie
	SwitchDelta

	// SwitchCount 开关总数
	SwitchCount = 4
)

// CmdQueryStatus 状态查询命令字节（ASCII '6'）
const CmdQueryStatus byte = 0x36

// 开关与设备命令字节、状态位的对应关系，运行期不可变
var switchTable = [SwitchCount]struct {
	Name    string
	Command byte
	Bit     uint
}{
	{Name: "Alpha", Command: 2, Bit: 0},
	{Name: "Bravo", Command: 3, Bit: 1},
	{Name: "Charlie", Command: 4, Bit: 2},
	{Name: "Delta", Command: 5, Bit: 3},
}

// String 返回开关名称
func (id SwitchID) String() string {
	if id < 0 || id >= SwitchCount {
		return "Unknown"
	}
	return switchTable[id].Name
}

// Valid 检查开关标识是否在固定集合内
func (id SwitchID) Valid() bool {
	return id >= 0 && id < SwitchCount
}

// ParseSwitchName 根据名称查找开关标识
func ParseSwitchName(name string) (SwitchID, bool) {
	for i := range switchTable {
		if switchTable[i].Name == name {
			return SwitchID(i), true
		}
	}
	return 0, false
}

// SwitchNames 返回全部开关名称（声明顺序）
func SwitchNames() []string {
	names := make([]string, SwitchCount)
	for i := range switchTable {
		names[i] = switchTable[i].Name
	}
	return names
}

// StatusSnapshot 某一时刻全部开关状态的不可变快照
type StatusSnapshot struct {
	States    [SwitchCount]bool `json:"states"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Get 返回指定开关的状态
func (s StatusSnapshot) Get(id SwitchID) bool {
	if !id.Valid() {
		return false
	}
	return s.States[id]
}

// Equal 逐项比较开关状态（不比较时间戳）
func (s StatusSnapshot) Equal(other StatusSnapshot) bool {
	return s.States == other.States
}

// ToMap 转换为 {开关名: 0/1} 的字典形式，用于API响应和推送
func (s StatusSnapshot) ToMap() map[string]int {
	result := make(map[string]int, SwitchCount)
	for i := range switchTable {
		state := 0
		if s.States[i] {
			state = 1
		}
		result[switchTable[i].Name] = state
	}
	return result
}

// EncodeQuery 返回状态查询命令
func EncodeQuery() byte {
	return CmdQueryStatus
}

// EncodeToggle 返回翻转指定开关的命令
func EncodeToggle(id SwitchID) byte {
	return switchTable[id].Command
}

// DecodeStatus 解码设备状态响应，低四位对应四路开关，置位表示开。
// 对任意字节值都可解码，不会失败。
func DecodeStatus(raw byte) StatusSnapshot {
	var snapshot StatusSnapshot
	for i := range switchTable {
		snapshot.States[i] = raw&(1<<switchTable[i].Bit) != 0
	}
	snapshot.UpdatedAt = time.Now()
	return snapshot
}
