// Package locale holds the fixed texts used in outgoing messages and HTTP
// responses, selected by BCP 47 language matching.
package locale

import "golang.org/x/text/language"

// Texts is one language's set of labels and messages.
type Texts struct {
	Tag language.Tag

	Name               string
	Company            string
	Phone              string
	Email              string
	SelectedItems      string
	ProjectDescription string
	PromoCode          string
	Discount           string
	Subscribe          string

	Yes  string
	No   string
	None string

	Sent          string
	SendFailed    string
	InvalidForm   string
	TooLarge      string
	MalformedForm string
}

var russian = &Texts{
	Tag:                language.Russian,
	Name:               "Имя",
	Company:            "Название компании",
	Phone:              "Телефон",
	Email:              "Почта",
	SelectedItems:      "Выбранные позиции",
	ProjectDescription: "Описание проекта",
	PromoCode:          "Промокод",
	Discount:           "Скидка",
	Subscribe:          "Подписка на рассылку",
	Yes:                "Да",
	No:                 "Нет",
	None:               "Нет",
	Sent:               "Письмо успешно отправлено!",
	SendFailed:         "Ошибка при отправке письма!",
	InvalidForm:        "Проверьте правильность заполнения формы",
	TooLarge:           "Слишком большой файл",
	MalformedForm:      "Некорректный запрос",
}

var english = &Texts{
	Tag:                language.English,
	Name:               "Name",
	Company:            "Company",
	Phone:              "Phone",
	Email:              "Email",
	SelectedItems:      "Selected items",
	ProjectDescription: "Project description",
	PromoCode:          "Promo code",
	Discount:           "Discount",
	Subscribe:          "Newsletter subscription",
	Yes:                "Yes",
	No:                 "No",
	None:               "None",
	Sent:               "Your message has been sent!",
	SendFailed:         "Failed to send your message!",
	InvalidForm:        "Please check the form fields",
	TooLarge:           "The uploaded file is too large",
	MalformedForm:      "Malformed request",
}

// supported is ordered by preference; the first entry is the fallback.
var supported = []*Texts{russian, english}

var matcher = language.NewMatcher([]language.Tag{russian.Tag, english.Tag})

// For returns the texts that best match the given language tag. Unknown or
// empty tags fall back to Russian.
func For(tag string) *Texts {
	_, idx := language.MatchStrings(matcher, tag)
	return supported[idx]
}
