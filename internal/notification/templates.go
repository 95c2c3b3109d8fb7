package notification

import (
	"fmt"
	"html"
)

// PasswordResetMessage builds the password reset email. The link expires
// after an hour.
func PasswordResetMessage(to, name, link string) Message {
	greeting := "Hola"
	if name != "" {
		greeting = "Hola " + name
	}

	text := fmt.Sprintf("%s,\n\nHas solicitado el restablecimiento de tu contraseña.\n"+
		"Abre el siguiente enlace para completar el proceso:\n\n%s\n\n"+
		"Este enlace caducará en 1 hora. Si no solicitaste el cambio, ignora este correo.\n", greeting, link)

	body := fmt.Sprintf(`<p>%s,</p>
<p>Has solicitado el restablecimiento de tu contraseña.</p>
<p>Haz clic en el siguiente enlace, o pégalo en tu navegador, para completar el proceso:</p>
<p><a href="%s">Restablecer Contraseña</a></p>
<p>Este enlace caducará en 1 hora.</p>`, html.EscapeString(greeting), html.EscapeString(link))

	return Message{
		To:      to,
		ToName:  name,
		Subject: "Restablecimiento de Contraseña",
		Text:    text,
		HTML:    body,
		Kind:    "password_reset",
	}
}
