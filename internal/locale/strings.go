package locale

var builtin = map[string]map[string]string{
	"de": {},
	"en": {
		Agree: "Do you agree?",
		AgreementInfo: "What kind of information do we keep and process?\n" +
			"First of all, we do need to keep your telegram id for technical " +
			"reasons, so you could use our TG bot. Moreover, we could need to " +
			"keep and process data, you provide us about your case.\n\n" +
			"[More info](https://www.equal-postost.org/home/about-us/datenschutz)",
		DoYouAgree: "To continue, we need your consent to process and " +
			"store personal data. Do you agree?",
		Feedback: "[Get a feedback](https://www.equal-postost.org/feedback)",
		HowCanWeHelp: "Please, describe in one message, what happened " +
			"and how we can help you.",
		Info:  "Info",
		No:    "No",
		Thank: "Thank you",
		WeCannotProceed: "If you do not give us consent to store and " +
			"process your personal data, we cannot proceed.",
		WelcomeBack: "Welcome back. We are glad to see you again.",
		Yes:         "Yes",
	},
	"ru": {
		Agree: "Согласны?",
		AgreementInfo: "Какую информацию мы храним или обрабатываем?\n" +
			"В первую очередь, по техническим причинам нам необходимо хранить " +
			"информацию о вашем профиле ТГ. Также в процессе обработки вашего " +
			"запроса вы можете предоставлять данные личного характера, которые " +
			"нам будет необходимо обрабатывать или временно хранить.\n\n" +
			"[Подробнее](https://www.equal-postost.org/home/about-us/datenschutz)",
		Contacts: "Наши новости и соцсети:\n" +
			"📎 [Telegram-канал](https://t.me/equal_postost)\n" +
			"📎 [Instagram](https://instagram.com/equal_postost)\n" +
			"📎 [Facebook](https://www.facebook.com/equal.postost)\n\n" +
			"Получить помощь:\n" +
			"[Telegram-бот](https://t.me/equal_postost_bot) или " +
			"[Email](mailto:sos@equal-postost.org)\n\n" +
			"[Нужно временное жилье](https://t.me/equal_home)\n\n" +
			"Отправить донат или подписаться на ежемесячное пожертвование:" +
			"[PayPal](https://www.paypal.com/donate/?hosted_button_id=6VRW6LGY75JZ2)\n\n" +
			"[Стать частью волонтёрской команды EQUAL PostOst]" +
			"(https://t.me/equal_postost_bot)\n\n" +
			"[Предложить сотрудничество (email)](mailto:info@equal-postost.org)\n\n" +
			"[Подробнее о нас](https://www.equal-postost.org/)",
		Donate: "[PayPal](https://www.paypal.com/donate/?hosted_button_id=6VRW6LGY75JZ2)",
		DoYouAgree: "Чтобы продолжить, нам нужно ваше согласие на " +
			"обработку и хранение персональных данных. Вы согласны?",
		Feedback: "[Оставить отзыв](https://www.equal-postost.org/feedback)",
		HowCanWeHelp: "Опишите, пожалуйста, в одном сообщении вашу " +
			"ситуацию, и чем мы можем вам помочь.",
		Info:  "Инфо",
		No:    "Нет",
		Thank: "Спасибо",
		WeCannotProceed: "Если вы не даете нам согласие на хранение и " +
			"обработку ваших персональных данных, мы не можем продолжить.",
		WelcomeBack: "С возвращением. Рады видеть Вас снова.",
		Yes:         "Да",
	},
}
