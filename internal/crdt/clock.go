package crdt

import "sync/atomic"

// LamportClock представляет логические часы Лампорта для упорядочивания
// событий в распределенной системе без синхронизации физического времени.
// Счетчик атомарный: Tick можно звать из любого количества горутин.
type LamportClock struct {
	counter atomic.Uint64
}

// NewLamportClock создает часы с нулевым счетчиком.
func NewLamportClock() *LamportClock {
	return &LamportClock{}
}

// Tick увеличивает счетчик и возвращает новое значение.
// Используется при создании нового локального события.
func (lc *LamportClock) Tick() uint64 {
	return lc.counter.Add(1)
}

// Update обновляет счетчик по полученному удаленному timestamp.
// Согласно правилу Лампорта: counter = max(counter, remote) + 1.
func (lc *LamportClock) Update(remote uint64) uint64 {
	for {
		current := lc.counter.Load()
		next := current + 1
		if remote >= current {
			next = remote + 1
		}
		if lc.counter.CompareAndSwap(current, next) {
			return next
		}
	}
}

// Forward продвигает счетчик до max(counter, v) без инкремента.
// Используется при слиянии состояний документов, где нового события
// не возникает.
func (lc *LamportClock) Forward(v uint64) {
	for {
		current := lc.counter.Load()
		if v <= current {
			return
		}
		if lc.counter.CompareAndSwap(current, v) {
			return
		}
	}
}

// Current возвращает текущее значение счетчика без изменения.
func (lc *LamportClock) Current() uint64 {
	return lc.counter.Load()
}

// Set устанавливает счетчик в заданное значение.
// Используется только при переинициализации документа.
func (lc *LamportClock) Set(v uint64) {
	lc.counter.Store(v)
}
