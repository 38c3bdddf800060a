// Package validation содержит проверки пользовательского ввода.
package validation

// IsValidOrderNumber сообщает, является ли строка корректным номером заказа:
// непустая последовательность цифр с верной контрольной суммой Луна.
func IsValidOrderNumber(number string) bool {
	if number == "" {
		return false
	}

	sum := 0
	for i := len(number) - 1; i >= 0; i-- {
		c := number[i]
		if c < '0' || c > '9' {
			return false
		}

		d := int(c - '0')
		// Удваивается каждая вторая цифра, считая справа
		if (len(number)-1-i)%2 == 1 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
	}

	return sum%10 == 0
}
