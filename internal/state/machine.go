package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/langchou/petgazer/internal/api/kippy"
)

// 追踪器状态常量
const (
	StateIdle         = "idle"
	StateLive         = "live"
	StateEnergySaving = "energy_saving"
)

// 事件常量
const (
	EventStartLive         = "start_live"
	EventStopLive          = "stop_live"
	EventEnterEnergySaving = "enter_energy_saving"
	EventExitEnergySaving  = "exit_energy_saving"
)

// StatusToState 工作状态码到状态名的映射
func StatusToState(status int) string {
	switch status {
	case kippy.OperatingStatusLive:
		return StateLive
	case kippy.OperatingStatusEnergySaving:
		return StateEnergySaving
	default:
		return StateIdle
	}
}

// TrackerState 追踪器完整状态
type TrackerState struct {
	PetID        int64      `json:"pet_id"`
	KippyID      int64      `json:"kippy_id"`
	CurrentState string     `json:"state"`
	Since        time.Time  `json:"since"`
	Battery      *float64   `json:"battery,omitempty"`
	Latitude     *float64   `json:"latitude,omitempty"`
	Longitude    *float64   `json:"longitude,omitempty"`
	Accuracy     *float64   `json:"accuracy,omitempty"`
	Altitude     *float64   `json:"altitude,omitempty"`
	Technology   string     `json:"technology,omitempty"`
	ContactTime  *time.Time `json:"contact_time,omitempty"`
	FixTime      *time.Time `json:"fix_time,omitempty"`
	GPSTime      *time.Time `json:"gps_time,omitempty"`
	LBSTime      *time.Time `json:"lbs_time,omitempty"`
	NextContact  *time.Time `json:"next_contact,omitempty"`
	// 当日活动累计值，按指标名索引
	Activities   map[string]float64 `json:"activities,omitempty"`
	ActivityDate string             `json:"activity_date,omitempty"`
}

// Machine 追踪器状态机
type Machine struct {
	mu            sync.RWMutex
	petID         int64
	fsm           *fsm.FSM
	state         *TrackerState
	onStateChange func(petID int64, from, to string)
}

// NewMachine 创建状态机
func NewMachine(petID, kippyID int64, initialState string, onStateChange func(petID int64, from, to string)) *Machine {
	if initialState == "" {
		initialState = StateIdle
	}

	m := &Machine{
		petID:         petID,
		onStateChange: onStateChange,
		state: &TrackerState{
			PetID:        petID,
			KippyID:      kippyID,
			CurrentState: initialState,
			Since:        time.Now(),
		},
	}

	m.fsm = fsm.NewFSM(
		initialState,
		fsm.Events{
			// 从 idle 状态
			{Name: EventStartLive, Src: []string{StateIdle}, Dst: StateLive},
			{Name: EventEnterEnergySaving, Src: []string{StateIdle, StateLive}, Dst: StateEnergySaving},

			// 从 live 状态
			{Name: EventStopLive, Src: []string{StateLive}, Dst: StateIdle},

			// 从 energy_saving 状态
			{Name: EventExitEnergySaving, Src: []string{StateEnergySaving}, Dst: StateIdle},
		},
		fsm.Callbacks{
			"after_event": func(ctx context.Context, e *fsm.Event) {
				if m.onStateChange != nil && e.Src != e.Dst {
					m.onStateChange(m.petID, e.Src, e.Dst)
				}
			},
		},
	)

	return m
}

// CurrentState 获取当前状态
func (m *Machine) CurrentState() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Current()
}

// GetState 获取完整状态
func (m *Machine) GetState() *TrackerState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	// 返回副本
	stateCopy := *m.state
	if stateCopy.Activities != nil {
		activities := make(map[string]float64, len(stateCopy.Activities))
		for k, v := range stateCopy.Activities {
			activities[k] = v
		}
		stateCopy.Activities = activities
	}
	stateCopy.CurrentState = m.fsm.Current()
	return &stateCopy
}

// UpdateState 更新状态数据
func (m *Machine) UpdateState(update func(s *TrackerState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	update(m.state)
}

// Trigger 触发事件
func (m *Machine) Trigger(event string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fsm.Event(context.Background(), event); err != nil {
		return fmt.Errorf("trigger event %s: %w", event, err)
	}

	m.state.CurrentState = m.fsm.Current()
	m.state.Since = time.Now()
	return nil
}

// CanTransition 检查是否可以转换
func (m *Machine) CanTransition(event string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Can(event)
}

// ApplyStatus 按接口上报的工作状态码同步状态机
func (m *Machine) ApplyStatus(status int) {
	target := StatusToState(status)

	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.fsm.Current()
	if current == target {
		return
	}

	// 设备上报的状态是权威的，无法走事件路径时直接设置
	m.fsm.SetState(target)
	m.state.CurrentState = target
	m.state.Since = time.Now()

	if m.onStateChange != nil {
		m.onStateChange(m.petID, current, target)
	}
}

// Manager 状态机管理器
type Manager struct {
	mu       sync.RWMutex
	machines map[int64]*Machine
	onChange func(petID int64, from, to string)
}

// NewManager 创建管理器
func NewManager(onChange func(petID int64, from, to string)) *Manager {
	return &Manager{
		machines: make(map[int64]*Machine),
		onChange: onChange,
	}
}

// GetOrCreate 获取或创建状态机
func (m *Manager) GetOrCreate(petID, kippyID int64, initialState string) *Machine {
	m.mu.Lock()
	defer m.mu.Unlock()

	if machine, ok := m.machines[petID]; ok {
		return machine
	}

	machine := NewMachine(petID, kippyID, initialState, m.onChange)
	m.machines[petID] = machine
	return machine
}

// Get 获取状态机
func (m *Manager) Get(petID int64) (*Machine, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	machine, ok := m.machines[petID]
	return machine, ok
}

// Delete 移除状态机
func (m *Manager) Delete(petID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.machines, petID)
}

// GetAllStates 获取所有追踪器状态
func (m *Manager) GetAllStates() map[int64]*TrackerState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make(map[int64]*TrackerState)
	for petID, machine := range m.machines {
		states[petID] = machine.GetState()
	}
	return states
}
