// Package money реализует денежный тип с фиксированной точностью (две цифры после запятой).
//
// Сумма хранится как целое количество минимальных единиц (копейки, kobo, центы).
// Двоичные float никогда не участвуют в расчётах: разбор и форматирование
// выполняются через shopspring/decimal, арифметика — над int64.
package money

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale задаёт количество знаков после запятой.
const Scale = 2

var (
	// ErrInvalidAmount возвращается при разборе некорректной строки.
	ErrInvalidAmount = errors.New("invalid money amount")
	// ErrPrecision — у значения больше двух знаков после запятой.
	ErrPrecision = errors.New("money amount has more than 2 decimal places")
	// ErrOverflow — результат не помещается в int64.
	ErrOverflow = errors.New("money amount overflow")
)

var Zero = Money{}

// Money — сумма в минимальных денежных единицах.
type Money struct {
	minor int64
}

// FromMinor создаёт сумму из количества минимальных единиц.
func FromMinor(minor int64) Money {
	return Money{minor: minor}
}

// FromUnits создаёт сумму из целого количества основных единиц (100 -> 100.00).
func FromUnits(units int64) Money {
	return Money{minor: units * 100}
}

// FromDecimal переводит decimal в Money. Значения с точностью выше двух знаков отклоняются.
func FromDecimal(d decimal.Decimal) (Money, error) {
	if !d.Equal(d.Truncate(Scale)) {
		return Money{}, ErrPrecision
	}
	shifted := d.Shift(Scale)
	if !shifted.IsInteger() || shifted.GreaterThan(maxMinor) || shifted.LessThan(minMinor) {
		return Money{}, ErrOverflow
	}
	return Money{minor: shifted.IntPart()}, nil
}

// Parse разбирает строку вида "581000", "581000.5" или "-12.34".
func Parse(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return FromDecimal(d)
}

// MustParse паникует на ошибке; только для констант и тестов.
func MustParse(s string) Money {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return m
}

var (
	maxMinor = decimal.NewFromInt(math.MaxInt64)
	minMinor = decimal.NewFromInt(math.MinInt64)
)

// Minor возвращает сумму в минимальных единицах.
func (m Money) Minor() int64 { return m.minor }

// Decimal возвращает сумму как decimal со scale 2.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.minor, -Scale)
}

// Add складывает суммы. Выход за пределы int64 возвращает ErrOverflow.
func (m Money) Add(other Money) (Money, error) {
	sum, ok := AddInt64(m.minor, other.minor)
	if !ok {
		return Money{}, ErrOverflow
	}
	return Money{minor: sum}, nil
}

// Sub вычитает сумму.
func (m Money) Sub(other Money) Money {
	return Money{minor: m.minor - other.minor}
}

// Neg меняет знак.
func (m Money) Neg() Money {
	return Money{minor: -m.minor}
}

// Abs возвращает модуль суммы.
func (m Money) Abs() Money {
	if m.minor < 0 {
		return m.Neg()
	}
	return m
}

// MulInt умножает сумму на целое число (цена за пачку * количество пачек).
func (m Money) MulInt(n int64) (Money, error) {
	product, ok := MulInt64(m.minor, n)
	if !ok {
		return Money{}, ErrOverflow
	}
	return Money{minor: product}, nil
}

// AddInt64 складывает целые и сообщает, поместился ли результат в int64.
func AddInt64(a, b int64) (int64, bool) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, false
	}
	return sum, true
}

// MulInt64 умножает целые и сообщает, поместился ли результат в int64.
func MulInt64(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	product := a * b
	if product/b != a || (a == math.MinInt64 && b == -1) || (b == math.MinInt64 && a == -1) {
		return 0, false
	}
	return product, true
}

// MulRate умножает сумму на дробный коэффициент с округлением до двух знаков
// половиной вверх (от нуля для отрицательных значений).
func (m Money) MulRate(rate decimal.Decimal) Money {
	product := m.Decimal().Mul(rate).Round(Scale)
	return Money{minor: product.Shift(Scale).IntPart()}
}

// Cmp сравнивает суммы: -1, 0 или 1.
func (m Money) Cmp(other Money) int {
	switch {
	case m.minor < other.minor:
		return -1
	case m.minor > other.minor:
		return 1
	default:
		return 0
	}
}

// Equal сообщает о точном равенстве сумм.
func (m Money) Equal(other Money) bool { return m.minor == other.minor }

func (m Money) GreaterThan(other Money) bool { return m.minor > other.minor }

func (m Money) LessThan(other Money) bool { return m.minor < other.minor }

// IsZero сообщает, что сумма равна нулю.
func (m Money) IsZero() bool { return m.minor == 0 }

func (m Money) IsPositive() bool { return m.minor > 0 }

func (m Money) IsNegative() bool { return m.minor < 0 }

// Sum складывает набор сумм.
func Sum(values ...Money) (Money, error) {
	var total Money
	for _, v := range values {
		var err error
		if total, err = total.Add(v); err != nil {
			return Money{}, err
		}
	}
	return total, nil
}

// String форматирует сумму с двумя знаками после запятой: "581000.00".
func (m Money) String() string {
	return m.Decimal().StringFixed(Scale)
}

// MarshalJSON кодирует сумму строкой, чтобы клиенты не теряли точность.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(m.String())), nil
}

// UnmarshalJSON принимает как строку "12.50", так и число 12.5.
func (m *Money) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*m = Money{}
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = s
	}
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Value реализует driver.Valuer: в БД сумма уходит как NUMERIC(18,2).
func (m Money) Value() (driver.Value, error) {
	return m.String(), nil
}

// Scan реализует sql.Scanner для NUMERIC колонок.
func (m *Money) Scan(src any) error {
	var d decimal.Decimal
	switch v := src.(type) {
	case decimal.Decimal:
		// pgx с зарегистрированным кодеком shopspring отдаёт NUMERIC уже как decimal.
		d = v
	default:
		if err := d.Scan(src); err != nil {
			return fmt.Errorf("scan money: %w", err)
		}
	}
	parsed, err := FromDecimal(d)
	if err != nil {
		return fmt.Errorf("scan money: %w", err)
	}
	*m = parsed
	return nil
}
